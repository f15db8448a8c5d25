package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/shinji-kodama/fwdport/internal/machine"
	"github.com/shinji-kodama/fwdport/internal/model"
)

// loadConfig locates and loads the configuration file. An empty path
// searches the working directory; a relative path is resolved inside it.
// The path actually loaded is returned with the config.
func loadConfig(path string) (*machine.Config, string, error) {
	projectDir, err := os.Getwd()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get current directory: %w", err)
	}

	if path == "" {
		path, err = machine.FindConfig(projectDir)
	} else {
		path, err = machine.ResolvePath(projectDir, path)
	}
	if err != nil {
		return nil, "", err
	}
	VerboseLog("Using configuration file %s", path)

	cfg, err := machine.LoadConfig(path)
	if err != nil {
		return nil, "", err
	}
	VerboseLog("Loaded %d machine(s)", len(cfg.Machines))

	return cfg, path, nil
}

// validateConfig returns a CLIError with ExitConfigInvalid listing every
// validation error, or nil.
func validateConfig(cfg *machine.Config) error {
	errs := machine.Validate(cfg)
	if len(errs) == 0 {
		return nil
	}

	lines := make([]string, 0, len(errs))
	for _, e := range errs {
		lines = append(lines, fmt.Sprintf("  %s: %s", e.Field, e.Message))
	}
	return model.NewCLIError(
		model.ExitConfigInvalid,
		fmt.Sprintf("invalid configuration (%d error(s)):\n%s", len(errs), strings.Join(lines, "\n")),
	)
}

// selectMachines returns the named machines in configuration order, or all
// machines when names is empty. Unknown names are an error.
func selectMachines(cfg *machine.Config, names []string) ([]*model.Machine, error) {
	if len(names) == 0 {
		return cfg.MachinePointers(), nil
	}

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		if cfg.Machine(n) == nil {
			return nil, model.NewCLIError(model.ExitGeneralError, fmt.Sprintf("machine %q is not defined in the configuration", n))
		}
		wanted[n] = true
	}

	var selected []*model.Machine
	for _, m := range cfg.MachinePointers() {
		if wanted[m.Name] {
			selected = append(selected, m)
		}
	}
	return selected, nil
}

// portJSON is the JSON form of one forwarded-port rule.
type portJSON struct {
	ID        string `json:"id,omitempty"`
	GuestPort int    `json:"guestPort"`
	HostPort  int    `json:"hostPort"`
	HostIP    string `json:"hostIp,omitempty"`
	Protocol  string `json:"protocol"`
}

// machineJSON is the JSON form of a machine's forwarded ports.
type machineJSON struct {
	Name            string     `json:"name"`
	UsablePortRange string     `json:"usablePortRange"`
	ForwardedPorts  []portJSON `json:"forwardedPorts"`
}

func toMachineJSON(m *model.Machine) machineJSON {
	entry := machineJSON{
		Name:            m.Name,
		UsablePortRange: m.PortRange().String(),
		ForwardedPorts:  make([]portJSON, 0),
	}
	for _, r := range m.ForwardedPorts() {
		entry.ForwardedPorts = append(entry.ForwardedPorts, portJSON{
			ID:        r.ID,
			GuestPort: r.GuestPort,
			HostPort:  r.HostPort,
			HostIP:    r.HostIP,
			Protocol:  r.Protocol,
		})
	}
	return entry
}
