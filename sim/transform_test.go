package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allPacketTypes() []PacketType {
	return []PacketType{
		PacketHTTPCompute, PacketHTTPDB, PacketHTTPStorage, PacketHTTPAttack,
		PacketDBQuery, PacketDBResult, PacketHTTPResponse,
		PacketStorageOp, PacketStorageResult, PacketLogEntry,
	}
}

func TestTransition_Table(t *testing.T) {
	tests := []struct {
		name     string
		in       PacketType
		kind     ServiceKind
		cacheHit bool
		want     PacketType
		outcome  Outcome
	}{
		{"attack absorbed by firewall", PacketHTTPAttack, KindFirewall, false, PacketHTTPAttack, OutcomeAbsorbed},
		{"attack absorbed by waf", PacketHTTPAttack, KindWAF, false, PacketHTTPAttack, OutcomeAbsorbed},
		{"request passes firewall", PacketHTTPCompute, KindFirewall, false, PacketHTTPCompute, OutcomeForward},
		{"response passes waf", PacketHTTPResponse, KindWAF, false, PacketHTTPResponse, OutcomeForward},

		{"vm answers compute", PacketHTTPCompute, KindVM, false, PacketHTTPResponse, OutcomeForward},
		{"app service issues db query", PacketHTTPDB, KindAppService, false, PacketDBQuery, OutcomeForward},
		{"function issues storage op", PacketHTTPStorage, KindFunctionApp, false, PacketStorageOp, OutcomeForward},
		{"vm turns db result into response", PacketDBResult, KindVM, false, PacketHTTPResponse, OutcomeForward},
		{"vm turns storage result into response", PacketStorageResult, KindVM, false, PacketHTTPResponse, OutcomeForward},
		{"attack passes compute", PacketHTTPAttack, KindVM, false, PacketHTTPAttack, OutcomeForward},

		{"sql answers query", PacketDBQuery, KindSQLDB, false, PacketDBResult, OutcomeForward},
		{"premium sql answers query", PacketDBQuery, KindSQLDBPremium, false, PacketDBResult, OutcomeForward},
		{"cosmos answers query", PacketDBQuery, KindCosmosDB, false, PacketDBResult, OutcomeForward},
		{"database passes result", PacketDBResult, KindSQLDB, false, PacketDBResult, OutcomeForward},

		{"cache hit answers query", PacketDBQuery, KindRedis, true, PacketDBResult, OutcomeForward},
		{"cache miss forwards query", PacketDBQuery, KindRedis, false, PacketDBQuery, OutcomeForward},
		{"cache passes result", PacketDBResult, KindRedis, true, PacketDBResult, OutcomeForward},

		{"blob answers storage op", PacketStorageOp, KindBlobStorage, false, PacketStorageResult, OutcomeForward},
		{"blob ignores db query", PacketDBQuery, KindBlobStorage, false, PacketDBQuery, OutcomeForward},

		{"queue passes request", PacketHTTPDB, KindStorageQueue, false, PacketHTTPDB, OutcomeForward},
		{"balancer passes response", PacketHTTPResponse, KindLoadBalancer, false, PacketHTTPResponse, OutcomeForward},
		{"gateway passes attack", PacketHTTPAttack, KindTrafficManager, false, PacketHTTPAttack, OutcomeForward},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, outcome := Transition(tc.in, tc.kind, tc.cacheHit)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.outcome, outcome)
		})
	}
}

func TestTransition_EveryPair_StaysInClosedSet(t *testing.T) {
	// GIVEN every (packet type, kind) pair, with and without a cache hit
	for _, k := range ServiceKinds() {
		for _, pt := range allPacketTypes() {
			for _, hit := range []bool{false, true} {
				// WHEN the pair is transformed
				got, outcome := Transition(pt, k, hit)

				// THEN the result is a known type and only firewalls absorb
				assert.True(t, IsValidPacketType(string(got)), "%s at %s -> %s", pt, k, got)
				if outcome == OutcomeAbsorbed {
					assert.True(t, k.IsFirewall() && pt.IsAttack(), "%s absorbed at %s", pt, k)
				}
				assert.NotEqual(t, OutcomeCapabilityMissing, outcome, "capability is checked by the caller")
				if pt.IsResponsePhase() {
					assert.True(t, got.IsResponsePhase(), "response-phase %s at %s became %s", pt, k, got)
				}
			}
		}
	}
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "forward", OutcomeForward.String())
	assert.Equal(t, "absorbed", OutcomeAbsorbed.String())
	assert.Equal(t, "capability-missing", OutcomeCapabilityMissing.String())
	assert.Equal(t, "unknown", Outcome(42).String())
}

func TestServiceKind_Categories(t *testing.T) {
	// GIVEN every kind
	for _, k := range ServiceKinds() {
		// THEN it belongs to exactly one base category
		base := 0
		for _, in := range []bool{
			k.IsOrigin(), k.IsCompute(), k.IsDatabase(), k.IsCache(), k.IsBlobStore(),
			k.IsQueue(), k.IsFirewall(), k.IsGateway(), k.IsBalancer(), k.IsMonitoring(),
		} {
			if in {
				base++
			}
		}
		assert.Equal(t, 1, base, "kind %s", k)
	}
	assert.Len(t, ServiceKinds(), 15)
	assert.True(t, KindFunctionApp.IsServerless())
	assert.True(t, KindCosmosDB.IsGloballyDistributed())
	assert.False(t, KindSQLDB.IsGloballyDistributed())
	assert.False(t, IsValidServiceKind("mainframe"))
}

func TestPacketType_AcceptsTarget(t *testing.T) {
	tests := []struct {
		pt     PacketType
		kind   ServiceKind
		accept bool
	}{
		{PacketHTTPCompute, KindVM, true},
		{PacketHTTPCompute, KindLoadBalancer, true},
		{PacketHTTPCompute, KindWAF, true},
		{PacketHTTPCompute, KindStorageQueue, true},
		{PacketHTTPCompute, KindSQLDB, false},
		{PacketHTTPCompute, KindInternet, false},
		{PacketDBQuery, KindSQLDB, true},
		{PacketDBQuery, KindRedis, true},
		{PacketDBQuery, KindStorageQueue, true},
		{PacketDBQuery, KindTrafficManager, true},
		{PacketDBQuery, KindBlobStorage, false},
		{PacketDBQuery, KindVM, false},
		{PacketStorageOp, KindBlobStorage, true},
		{PacketStorageOp, KindSQLDB, false},
		{PacketDBResult, KindAppService, true},
		{PacketDBResult, KindRedis, true},
		{PacketDBResult, KindInternet, false},
		{PacketHTTPResponse, KindInternet, true},
		{PacketHTTPResponse, KindVM, false},
		{PacketHTTPAttack, KindSQLDB, true},
		{PacketLogEntry, KindAzureMonitor, true},
		{PacketType("bogus"), KindVM, false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.accept, tc.pt.AcceptsTarget(tc.kind), "%s -> %s", tc.pt, tc.kind)
	}
}

func TestPacketType_ProvidedBy(t *testing.T) {
	tests := []struct {
		pt      PacketType
		kind    ServiceKind
		provide bool
	}{
		{PacketHTTPDB, KindSQLDB, true},
		{PacketHTTPDB, KindCosmosDB, true},
		{PacketHTTPDB, KindRedis, true},
		{PacketHTTPDB, KindTrafficManager, true},
		{PacketHTTPDB, KindStorageQueue, false},
		{PacketHTTPDB, KindLoadBalancer, false},
		{PacketHTTPDB, KindBlobStorage, false},
		{PacketHTTPStorage, KindBlobStorage, true},
		{PacketHTTPStorage, KindTrafficManager, true},
		{PacketHTTPStorage, KindStorageQueue, false},
		{PacketHTTPStorage, KindLoadBalancer, false},
		{PacketHTTPStorage, KindRedis, false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.provide, tc.pt.ProvidedBy(tc.kind), "%s -> %s", tc.pt, tc.kind)
	}
}

func TestPacket_NextHop_RequestPushesTarget(t *testing.T) {
	// GIVEN a request at lb with stack [internet, lb]
	p := packetAt("r1", PacketHTTPCompute, "internet", "lb")
	p.ForwardHops = 1

	// WHEN it leaves on lb->vm
	next := p.nextHop(PacketHTTPCompute, candidate{EdgeID: "lb->vm", Target: "vm"})

	// THEN vm is pushed and the hop is counted
	assert.Equal(t, []string{"internet", "lb", "vm"}, next.RouteStack)
	assert.Equal(t, 2, next.ForwardHops)
	assert.Equal(t, "r1-hop-2", next.ID)
	assert.Equal(t, "r1", next.RootID)
	assert.Equal(t, "lb->vm", next.EdgeID)
	assert.Zero(t, next.Progress)

	// AND the receiver is untouched
	assert.Equal(t, []string{"internet", "lb"}, p.RouteStack)
	assert.Equal(t, "r1", p.ID)
}

func TestPacket_NextHop_ResponsePopsCurrent(t *testing.T) {
	// GIVEN a request at vm with stack [internet, lb, vm]
	p := packetAt("r1", PacketHTTPCompute, "internet", "lb", "vm")
	p.ForwardHops = 2

	// WHEN the response leaves on lb->vm in reverse
	next := p.nextHop(PacketHTTPResponse, candidate{EdgeID: "lb->vm", Reversed: true, Target: "lb"})

	// THEN vm is popped and the next return hop is internet
	assert.Equal(t, PacketHTTPResponse, next.Type)
	assert.Equal(t, []string{"internet", "lb"}, next.RouteStack)
	assert.Equal(t, 1, next.ReturnHops)
	assert.True(t, next.Reversed)
	hop, ok := next.ReturnHop()
	require.True(t, ok)
	assert.Equal(t, "internet", hop)
	assert.Equal(t, "lb", next.Current())
}

func TestPacket_ReturnHop_ShortStack(t *testing.T) {
	p := packetAt("r1", PacketHTTPResponse, "internet")
	_, ok := p.ReturnHop()
	assert.False(t, ok)
	assert.Equal(t, "", (&Packet{}).Current())
}
