package collision

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/fwdport/internal/model"
)

// fakeProber reports the ports in open as listening and records every
// probe it receives.
type fakeProber struct {
	open  map[int]bool
	calls []probeCall
}

type probeCall struct {
	host string
	port int
}

func newFakeProber(open ...int) *fakeProber {
	f := &fakeProber{open: make(map[int]bool)}
	for _, p := range open {
		f.open[p] = true
	}
	return f
}

func (f *fakeProber) IsPortOpen(host string, port int) bool {
	f.calls = append(f.calls, probeCall{host: host, port: port})
	return f.open[port]
}

func (f *fakeProber) probed(port int) bool {
	for _, c := range f.calls {
		if c.port == port {
			return true
		}
	}
	return false
}

func fp(guest, host int) *model.NetworkRule {
	return &model.NetworkRule{Type: model.NetworkForwardedPort, GuestPort: guest, HostPort: host}
}

func boolPtr(b bool) *bool { return &b }

// TestResolve_NoCollisions verifies that free ports pass through unchanged
// and no repairs are reported.
func TestResolve_NoCollisions(t *testing.T) {
	prober := newFakeProber()
	r := NewResolver(prober, Options{Repair: true})

	rules := []*model.NetworkRule{fp(22, 2222), fp(80, 8080)}
	var notified []Repair
	r.OnRepair = func(rep Repair) { notified = append(notified, rep) }

	repairs, err := r.Resolve("default", rules, []int{2200, 2201})
	require.NoError(t, err)

	assert.Empty(t, repairs)
	assert.Empty(t, notified)
	assert.Equal(t, 2222, rules[0].HostPort)
	assert.Equal(t, 8080, rules[1].HostPort)
}

// TestResolve_SmallestPortSelected covers the deterministic tie-break: with
// usable {8081, 8080, 8082} and a collision on 8080, the declared 8080 is
// reserved and the replacement is 8081, not 8082.
func TestResolve_SmallestPortSelected(t *testing.T) {
	prober := newFakeProber(8080)
	r := NewResolver(prober, Options{Repair: true})

	rules := []*model.NetworkRule{fp(80, 8080)}
	repairs, err := r.Resolve("default", rules, []int{8081, 8080, 8082})
	require.NoError(t, err)

	require.Len(t, repairs, 1)
	assert.Equal(t, 8081, rules[0].HostPort)
	assert.Equal(t, Repair{Machine: "default", GuestPort: 80, OldHostPort: 8080, NewHostPort: 8081}, repairs[0])
}

// TestResolve_RemapPrecedence: host 2222 remapped to 2200 with nothing on
// 2200 ends up on 2200 without a repair.
func TestResolve_RemapPrecedence(t *testing.T) {
	prober := newFakeProber(2222)
	r := NewResolver(prober, Options{Remap: map[int]int{2222: 2200}})

	rules := []*model.NetworkRule{fp(22, 2222)}
	repairs, err := r.Resolve("default", rules, nil)
	require.NoError(t, err)

	assert.Empty(t, repairs)
	assert.Equal(t, 2200, rules[0].HostPort)
	assert.True(t, prober.probed(2200), "the remapped port must be probed")
	assert.False(t, prober.probed(2222), "the original port is not probed once remapped")
}

// TestResolve_RemapTargetCollides verifies that remapping does not bypass
// collision detection.
func TestResolve_RemapTargetCollides(t *testing.T) {
	prober := newFakeProber(2200)
	r := NewResolver(prober, Options{Repair: true, Remap: map[int]int{2222: 2200}})

	rules := []*model.NetworkRule{fp(22, 2222)}
	repairs, err := r.Resolve("default", rules, []int{2201, 2202})
	require.NoError(t, err)

	require.Len(t, repairs, 1)
	assert.Equal(t, 2200, repairs[0].OldHostPort, "old port is the remapped port")
	assert.Equal(t, 2201, repairs[0].NewHostPort)
	assert.Equal(t, 2201, rules[0].HostPort)
}

// TestResolve_RemapAppliedOnFailure verifies that the remapped host port is
// stored on the rule even when the remapped port then collides.
func TestResolve_RemapAppliedOnFailure(t *testing.T) {
	prober := newFakeProber(2200)
	r := NewResolver(prober, Options{Remap: map[int]int{2222: 2200}})

	rules := []*model.NetworkRule{fp(22, 2222)}
	_, err := r.Resolve("default", rules, nil)
	require.Error(t, err)

	var collision *PortCollisionError
	require.True(t, errors.As(err, &collision))
	assert.Equal(t, 2200, collision.HostPort)
	assert.Equal(t, 2200, rules[0].HostPort)
}

// TestResolve_PoolExhausted: guest 22 on busy 2222 with repair and an empty
// pool fails with NoUsablePortsError carrying both ports.
func TestResolve_PoolExhausted(t *testing.T) {
	prober := newFakeProber(2222)
	r := NewResolver(prober, Options{Repair: true})

	rules := []*model.NetworkRule{fp(22, 2222)}
	_, err := r.Resolve("web", rules, nil)
	require.Error(t, err)

	var noPorts *NoUsablePortsError
	require.True(t, errors.As(err, &noPorts))
	assert.Equal(t, "web", noPorts.Machine)
	assert.Equal(t, 22, noPorts.GuestPort)
	assert.Equal(t, 2222, noPorts.HostPort)
	assert.True(t, errors.Is(err, ErrNoUsablePorts))
	assert.False(t, errors.Is(err, ErrPortCollision))
	assert.Equal(t, 2222, rules[0].HostPort, "failed rule must not be mutated")
}

// TestResolve_HardFailureWithoutRepair: guest 80 on busy 8080 without repair
// fails with PortCollisionError(80, 8080) and leaves the rule unchanged.
func TestResolve_HardFailureWithoutRepair(t *testing.T) {
	prober := newFakeProber(8080)
	r := NewResolver(prober, Options{})

	rules := []*model.NetworkRule{fp(80, 8080)}
	_, err := r.Resolve("default", rules, []int{2200, 2201})
	require.Error(t, err)

	var collision *PortCollisionError
	require.True(t, errors.As(err, &collision))
	assert.Equal(t, 80, collision.GuestPort)
	assert.Equal(t, 8080, collision.HostPort)
	assert.True(t, errors.Is(err, ErrPortCollision))
	assert.Equal(t, 8080, rules[0].HostPort)
}

// TestResolve_ExtraInUseWithoutProbing: 9000 listed as extra in use is a
// collision even though the probe would say it is closed, and the probe is
// never consulted for it.
func TestResolve_ExtraInUseWithoutProbing(t *testing.T) {
	prober := newFakeProber()
	r := NewResolver(prober, Options{ExtraInUse: []int{9000}})

	rules := []*model.NetworkRule{fp(90, 9000)}
	_, err := r.Resolve("default", rules, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPortCollision))
	assert.False(t, prober.probed(9000))
}

// TestResolve_ExtraInUseRemovedFromPool verifies that extra in-use ports
// are never handed out as replacements.
func TestResolve_ExtraInUseRemovedFromPool(t *testing.T) {
	prober := newFakeProber(2222)
	r := NewResolver(prober, Options{Repair: true, ExtraInUse: []int{2200, 2201}})

	rules := []*model.NetworkRule{fp(22, 2222)}
	repairs, err := r.Resolve("default", rules, []int{2200, 2201, 2202})
	require.NoError(t, err)

	require.Len(t, repairs, 1)
	assert.Equal(t, 2202, rules[0].HostPort)
}

// TestResolve_PreReservation verifies that a repair never takes a port that
// a later rule declared, even before that rule is visited.
func TestResolve_PreReservation(t *testing.T) {
	prober := newFakeProber(2222)
	r := NewResolver(prober, Options{Repair: true})

	rules := []*model.NetworkRule{fp(22, 2222), fp(80, 2200)}
	repairs, err := r.Resolve("default", rules, []int{2200, 2201, 2202})
	require.NoError(t, err)

	require.Len(t, repairs, 1)
	assert.Equal(t, 2201, rules[0].HostPort, "2200 is declared by the second rule")
	assert.Equal(t, 2200, rules[1].HostPort)
}

// TestResolve_NoDuplicateHostPorts checks pairwise-distinct host ports after
// repairing many collisions from a large pool.
func TestResolve_NoDuplicateHostPorts(t *testing.T) {
	var busy []int
	var rules []*model.NetworkRule
	for i := 0; i < 20; i++ {
		host := 8000 + i
		busy = append(busy, host)
		rules = append(rules, fp(80+i, host))
	}
	// Two free rules whose declared ports sit inside the pool.
	rules = append(rules, fp(22, 2205), fp(23, 2210))

	prober := newFakeProber(busy...)
	r := NewResolver(prober, Options{Repair: true})

	usable := model.PortRange{From: 2200, To: 2250}.Ports()
	repairs, err := r.Resolve("default", rules, usable)
	require.NoError(t, err)
	assert.Len(t, repairs, 20)

	seen := make(map[int]bool)
	for _, rule := range rules {
		assert.False(t, seen[rule.HostPort], "duplicate host port %d", rule.HostPort)
		seen[rule.HostPort] = true
	}
	assert.Equal(t, 2205, rules[20].HostPort)
	assert.Equal(t, 2210, rules[21].HostPort)
}

// TestResolve_RemapTargetReserved verifies that a repair never takes the
// port another rule is remapped to, whichever rule comes first.
func TestResolve_RemapTargetReserved(t *testing.T) {
	usable := model.PortRange{From: 2200, To: 2250}.Ports()

	tests := []struct {
		name  string
		rules func() (remapped, repaired *model.NetworkRule, all []*model.NetworkRule)
	}{
		{
			name: "remap first",
			rules: func() (*model.NetworkRule, *model.NetworkRule, []*model.NetworkRule) {
				a, b := fp(22, 2222), fp(80, 8080)
				return a, b, []*model.NetworkRule{a, b}
			},
		},
		{
			name: "repair first",
			rules: func() (*model.NetworkRule, *model.NetworkRule, []*model.NetworkRule) {
				a, b := fp(22, 2222), fp(80, 8080)
				return a, b, []*model.NetworkRule{b, a}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prober := newFakeProber(8080)
			r := NewResolver(prober, Options{Repair: true, Remap: map[int]int{2222: 2200}})

			remapped, repaired, rules := tt.rules()
			repairs, err := r.Resolve("default", rules, usable)
			require.NoError(t, err)

			require.Len(t, repairs, 1)
			assert.Equal(t, 2200, remapped.HostPort)
			assert.Equal(t, 2201, repaired.HostPort)
			assert.NotEqual(t, remapped.HostPort, repaired.HostPort)
		})
	}
}

// TestResolve_RepairNotificationsInOrder verifies that OnRepair sees each
// repair once, in resolution order, matching the returned slice.
func TestResolve_RepairNotificationsInOrder(t *testing.T) {
	prober := newFakeProber(8080, 8443)
	r := NewResolver(prober, Options{Repair: true})

	var notified []Repair
	r.OnRepair = func(rep Repair) { notified = append(notified, rep) }

	rules := []*model.NetworkRule{fp(80, 8080), fp(22, 2222), fp(443, 8443)}
	repairs, err := r.Resolve("default", rules, []int{2200, 2201})
	require.NoError(t, err)

	require.Len(t, notified, 2)
	assert.Equal(t, repairs, notified)
	assert.Equal(t, 80, notified[0].GuestPort)
	assert.Equal(t, 2200, notified[0].NewHostPort)
	assert.Equal(t, 443, notified[1].GuestPort)
	assert.Equal(t, 2201, notified[1].NewHostPort)
}

// TestResolve_PartialRepairsKeptOnFailure verifies that repairs made before
// a failing rule are not rolled back.
func TestResolve_PartialRepairsKeptOnFailure(t *testing.T) {
	prober := newFakeProber(8080, 8443)
	r := NewResolver(prober, Options{Repair: true})

	rules := []*model.NetworkRule{fp(80, 8080), fp(443, 8443)}
	repairs, err := r.Resolve("default", rules, []int{2200})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoUsablePorts))

	require.Len(t, repairs, 1)
	assert.Equal(t, 2200, rules[0].HostPort, "first repair stays applied")
	assert.Equal(t, 8443, rules[1].HostPort)
}

// TestResolve_IgnoresOtherNetworkTypes verifies that non-forwarded rules
// are neither probed nor reserved nor mutated.
func TestResolve_IgnoresOtherNetworkTypes(t *testing.T) {
	prober := newFakeProber(2200)
	r := NewResolver(prober, Options{Repair: true})

	private := &model.NetworkRule{Type: model.NetworkPrivate, HostPort: 2200, IP: "192.168.56.10"}
	rules := []*model.NetworkRule{private, fp(22, 2222), nil}

	repairs, err := r.Resolve("default", rules, []int{2200})
	require.NoError(t, err)
	assert.Empty(t, repairs)
	assert.Equal(t, 2200, private.HostPort)
	assert.False(t, prober.probed(2200), "private network rule must not be probed")
}

// TestResolve_AutoCorrectOptOut verifies that auto_correct=false fails the
// run even when repair is enabled.
func TestResolve_AutoCorrectOptOut(t *testing.T) {
	prober := newFakeProber(8080)
	r := NewResolver(prober, Options{Repair: true})

	rule := fp(80, 8080)
	rule.AutoCorrect = boolPtr(false)

	_, err := r.Resolve("default", []*model.NetworkRule{rule}, []int{2200})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPortCollision))
}

// TestResolve_ProbeCandidates verifies that with ProbeCandidates an open
// replacement is skipped, and that without it the smallest port is used
// as-is.
func TestResolve_ProbeCandidates(t *testing.T) {
	t.Run("enabled", func(t *testing.T) {
		prober := newFakeProber(8080, 2200)
		r := NewResolver(prober, Options{Repair: true, ProbeCandidates: true})

		rules := []*model.NetworkRule{fp(80, 8080)}
		_, err := r.Resolve("default", rules, []int{2200, 2201})
		require.NoError(t, err)
		assert.Equal(t, 2201, rules[0].HostPort)
	})

	t.Run("disabled", func(t *testing.T) {
		prober := newFakeProber(8080, 2200)
		r := NewResolver(prober, Options{Repair: true})

		rules := []*model.NetworkRule{fp(80, 8080)}
		_, err := r.Resolve("default", rules, []int{2200, 2201})
		require.NoError(t, err)
		assert.Equal(t, 2200, rules[0].HostPort)
		assert.False(t, prober.probed(2200))
	})

	t.Run("all candidates open", func(t *testing.T) {
		prober := newFakeProber(8080, 2200, 2201)
		r := NewResolver(prober, Options{Repair: true, ProbeCandidates: true})

		_, err := r.Resolve("default", []*model.NetworkRule{fp(80, 8080)}, []int{2200, 2201})
		assert.True(t, errors.Is(err, ErrNoUsablePorts))
	})
}

// TestResolve_DuplicateDeclaredPorts documents the duplicate host-port
// behavior: the second rule is re-probed, so a closed port lets both rules
// keep it, while an open port repairs only the rules that probe open.
func TestResolve_DuplicateDeclaredPorts(t *testing.T) {
	t.Run("port closed", func(t *testing.T) {
		prober := newFakeProber()
		r := NewResolver(prober, Options{Repair: true})

		rules := []*model.NetworkRule{fp(80, 8080), fp(81, 8080)}
		repairs, err := r.Resolve("default", rules, []int{2200})
		require.NoError(t, err)
		assert.Empty(t, repairs)
		assert.Equal(t, 8080, rules[0].HostPort)
		assert.Equal(t, 8080, rules[1].HostPort)
	})

	t.Run("port open", func(t *testing.T) {
		prober := newFakeProber(8080)
		r := NewResolver(prober, Options{Repair: true})

		rules := []*model.NetworkRule{fp(80, 8080), fp(81, 8080)}
		repairs, err := r.Resolve("default", rules, []int{2200, 2201})
		require.NoError(t, err)
		assert.Len(t, repairs, 2)
		assert.Equal(t, 2200, rules[0].HostPort)
		assert.Equal(t, 2201, rules[1].HostPort)
	})
}

// TestResolve_ProbesHostIP verifies that the rule's host IP is handed to
// the prober.
func TestResolve_ProbesHostIP(t *testing.T) {
	prober := newFakeProber()
	r := NewResolver(prober, Options{})

	rule := fp(80, 8080)
	rule.HostIP = "10.0.0.5"
	_, err := r.Resolve("default", []*model.NetworkRule{rule}, nil)
	require.NoError(t, err)

	require.Len(t, prober.calls, 1)
	assert.Equal(t, probeCall{host: "10.0.0.5", port: 8080}, prober.calls[0])
}

func TestResolve_Logf(t *testing.T) {
	prober := newFakeProber(8080)
	r := NewResolver(prober, Options{Repair: true, Remap: map[int]int{2222: 2200}})

	var lines []string
	r.Logf = func(format string, args ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, args...))
	}

	_, err := r.Resolve("default", []*model.NetworkRule{fp(22, 2222), fp(80, 8080)}, []int{2300})
	require.NoError(t, err)

	assert.Contains(t, lines, "machine default: remap port override 2222 => 2200")
	assert.Contains(t, lines, "machine default: repaired collision 8080 => 2300")
}

// TestResolveMachine uses the machine's own range and rewrites Networks.
func TestResolveMachine(t *testing.T) {
	prober := newFakeProber(2222)
	r := NewResolver(prober, Options{Repair: true})

	m := &model.Machine{
		Name:            "default",
		UsablePortRange: model.PortRange{From: 2300, To: 2301},
		Networks: []model.NetworkRule{
			{Type: model.NetworkPrivate, IP: "192.168.56.10"},
			{Type: model.NetworkForwardedPort, ID: "ssh", GuestPort: 22, HostPort: 2222},
		},
	}

	repairs, err := r.ResolveMachine(m)
	require.NoError(t, err)
	require.Len(t, repairs, 1)
	assert.Equal(t, "ssh", repairs[0].RuleID)
	assert.Equal(t, 2300, m.Networks[1].HostPort)
}

// TestResolveMachines verifies that a later machine cannot take a host
// port an earlier machine ended up with.
func TestResolveMachines(t *testing.T) {
	prober := newFakeProber(2222)
	r := NewResolver(prober, Options{Repair: true})

	rng := model.PortRange{From: 2200, To: 2202}
	web := &model.Machine{Name: "web", UsablePortRange: rng, Networks: []model.NetworkRule{*fp(22, 2222)}}
	db := &model.Machine{Name: "db", UsablePortRange: rng, Networks: []model.NetworkRule{*fp(22, 2222)}}

	repairs, err := r.ResolveMachines([]*model.Machine{web, db})
	require.NoError(t, err)
	require.Len(t, repairs, 2)

	assert.Equal(t, 2200, web.Networks[0].HostPort)
	assert.Equal(t, 2201, db.Networks[0].HostPort)
	assert.Equal(t, "db", repairs[1].Machine)
}

func TestResolveMachines_StopsOnFailure(t *testing.T) {
	prober := newFakeProber(2222)
	r := NewResolver(prober, Options{})

	web := &model.Machine{Name: "web", Networks: []model.NetworkRule{*fp(22, 2222)}}
	db := &model.Machine{Name: "db", Networks: []model.NetworkRule{*fp(22, 2223)}}

	_, err := r.ResolveMachines([]*model.Machine{web, db})
	require.Error(t, err)
	assert.False(t, prober.probed(2223), "resolution stops at the first failing machine")
}

func TestNewResolver_NilProber(t *testing.T) {
	r := NewResolver(nil, Options{Repair: true})
	require.NotNil(t, r.prober)
	assert.True(t, r.Options().Repair)
}

func TestErrorMessages(t *testing.T) {
	collision := &PortCollisionError{GuestPort: 80, HostPort: 8080}
	assert.Equal(t, "forwarded port to host port 8080 (guest port 80) is already in use on the host", collision.Error())

	noPorts := &NoUsablePortsError{Machine: "web", GuestPort: 22, HostPort: 2222}
	assert.Contains(t, noPorts.Error(), `machine "web"`)
	assert.Contains(t, noPorts.Error(), "host port 2222")

	wrapped := fmt.Errorf("resolve: %w", collision)
	assert.True(t, errors.Is(wrapped, ErrPortCollision))
}

func TestRepair_String(t *testing.T) {
	rep := Repair{GuestPort: 22, OldHostPort: 2222, NewHostPort: 2200}
	assert.Equal(t, "fixed port collision for 22 => 2222, now on port 2200", rep.String())
}
