package sim

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theczechguy/cloudgame/sim/ledger"
)

const tick = 16 * time.Millisecond

// chain builds internet -> lb -> vm with optional vm downstream kinds, all in
// the "us" region located in North America.
func chain(t *testing.T, downstream ...ServiceKind) *Topology {
	t.Helper()
	b := newTopoBuilder(t).region("us", "North America").
		node("internet", KindInternet, "").node("lb", KindLoadBalancer, "us").node("vm", KindVM, "us").
		edge("internet", "lb").edge("lb", "vm")
	for _, k := range downstream {
		b.node(string(k), k, "us").edge("vm", string(k))
	}
	return b.build()
}

func TestAdmitTasks_FillsConcurrencySlots(t *testing.T) {
	// GIVEN a VM (2 slots) with 5 queued packets
	s := newTestSimulator(t, chain(t), quietConfig(), 1)
	queueN(s, "vm", 5)

	// WHEN one tick runs
	s.Tick(tick)

	// THEN two packets execute and three wait
	vm := s.topo.Nodes["vm"]
	require.Len(t, vm.ActiveTasks, 2)
	assert.Equal(t, 3, vm.Queue.Len())
	assert.Equal(t, int64(16+83), vm.ActiveTasks[0].CompletesAt)
	assert.Equal(t, "vm-q0", vm.ActiveTasks[0].Packet.ID, "admission is FIFO")
	assert.InDelta(t, 0.1, vm.Utilization, 1e-9)

	// WHEN another tick runs with the slots still busy
	s.Tick(tick)

	// THEN the gauge keeps smoothing toward full
	assert.InDelta(t, 0.19, s.topo.Nodes["vm"].Utilization, 1e-9)
}

func TestAdmitTasks_NeverExceedsConcurrency(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("active tasks = min(max concurrent, queued)", prop.ForAll(
		func(maxConcurrent, queued int) bool {
			s := newTestSimulator(t, chain(t), quietConfig(), 1)
			s.topo.Nodes["vm"].MaxConcurrent = maxConcurrent
			queueN(s, "vm", queued)
			s.Tick(tick)
			vm := s.topo.Nodes["vm"]
			want := min(maxConcurrent, queued)
			return len(vm.ActiveTasks) == want && vm.Queue.Len() == queued-want
		},
		gen.IntRange(1, 8),
		gen.IntRange(0, 20),
	))

	properties.TestingRun(t)
}

func TestExecDuration(t *testing.T) {
	topo := newTopoBuilder(t).
		region("us", "North America").region("lab", "").
		node("vm-us", KindVM, "us").node("vm-lab", KindVM, "lab").node("vm-none", KindVM, "").
		node("sql-us", KindSQLDB, "us").node("cosmos-us", KindCosmosDB, "us").
		node("redis-us", KindRedis, "us").node("fn-us", KindFunctionApp, "us").
		build()
	s := newTestSimulator(t, topo, quietConfig(), 1)

	tests := []struct {
		name   string
		node   string
		origin string
		want   int64
	}{
		{"local vm", "vm-us", "North America", 83},
		{"remote vm", "vm-us", "Europe", 125},
		{"unknown origin", "vm-us", "", 83},
		{"unplaced vm", "vm-none", "Europe", 83},
		{"region without location", "vm-lab", "Europe", 125},
		{"local sql", "sql-us", "North America", 133},
		{"remote sql", "sql-us", "Europe", 200},
		{"cosmos exempt", "cosmos-us", "Europe", 33},
		{"cache floors at minimum and is exempt", "redis-us", "Europe", 20},
		{"function", "fn-us", "North America", 417},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			n := s.topo.Nodes[tc.node]
			p := packetAt("r", PacketHTTPCompute, "internet", tc.node)
			p.OriginRegion = tc.origin
			assert.Equal(t, tc.want, s.execDuration(n, s.catalog.Limits(n), p))
		})
	}
}

func TestBill_ServerlessAllowanceThenPerExecution(t *testing.T) {
	// GIVEN a function with one free execution left and two queued requests
	topo := newTopoBuilder(t).node("fn", KindFunctionApp, "").build()
	s := newTestSimulator(t, topo, quietConfig(), 1)
	fn := s.topo.Nodes["fn"]
	assert.Equal(t, 1000, fn.FreeRequestsRemaining, "allowance comes from the catalog")
	fn.FreeRequestsRemaining = 1
	fn.Queue.Enqueue(packetAt("a", PacketHTTPCompute, "internet", "fn"))
	fn.Queue.Enqueue(packetAt("b", PacketHTTPCompute, "internet", "fn"))

	// WHEN both are admitted
	r := s.Tick(tick)

	// THEN the first is free and the second is billed
	require.Len(t, r.Ledger, 1)
	assert.Equal(t, ledger.CauseBilling, r.Ledger[0].Cause)
	assert.InDelta(t, -0.005, r.Ledger[0].Amount, 1e-12)
	assert.Equal(t, "b", r.Ledger[0].RootID)
	assert.Equal(t, 0, s.topo.Nodes["fn"].FreeRequestsRemaining)
	assert.InDelta(t, 1000-0.005, s.Ledger().Balance(), 1e-9)
}

func TestBill_OnlyRequestKinds(t *testing.T) {
	// GIVEN an exhausted function and a queued db-result plus a request
	topo := newTopoBuilder(t).node("fn", KindFunctionApp, "").node("vm", KindVM, "").build()
	s := newTestSimulator(t, topo, quietConfig(), 1)
	fn := s.topo.Nodes["fn"]
	fn.FreeRequestsRemaining = 0
	fn.Queue.Enqueue(packetAt("a", PacketDBResult, "internet", "fn"))
	fn.Queue.Enqueue(packetAt("b", PacketHTTPStorage, "internet", "fn"))
	queueN(s, "vm", 2)

	// WHEN they are admitted
	r := s.Tick(tick)

	// THEN only the request on the serverless node is billed
	require.Len(t, r.Ledger, 1)
	assert.Equal(t, "b", r.Ledger[0].RootID)
}

func TestFinish_ComputeAnswersOnReturnPath(t *testing.T) {
	// GIVEN a request finishing on the VM
	s := newTestSimulator(t, chain(t), quietConfig(), 1)
	p := packetAt("r1", PacketHTTPCompute, "internet", "lb", "vm")
	p.OriginRegion = "North America"
	finishNow(s, "vm", p)

	// WHEN the tick runs
	r := s.Tick(tick)

	// THEN a response leaves backwards over lb->vm
	assert.Empty(t, r.Drops)
	require.Len(t, s.Packets(), 1)
	out := s.Packets()[0]
	assert.Equal(t, PacketHTTPResponse, out.Type)
	assert.Equal(t, "lb->vm", out.EdgeID)
	assert.True(t, out.Reversed)
	assert.Equal(t, []string{"internet", "lb"}, out.RouteStack)
	assert.Equal(t, "r1-hop-3", out.ID)
	assert.False(t, out.SLAViolated)
	assert.Empty(t, s.topo.Nodes["vm"].ActiveTasks)
}

func TestFinish_SLATaint(t *testing.T) {
	tests := []struct {
		name   string
		pt     PacketType
		origin string
		want   bool
	}{
		{"foreign request is tainted", PacketHTTPCompute, "Europe", true},
		{"local request is clean", PacketHTTPCompute, "North America", false},
		{"unknown origin is clean", PacketHTTPCompute, "", false},
		{"results are not re-evaluated", PacketDBResult, "Europe", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			// GIVEN a packet finishing on a VM in North America
			s := newTestSimulator(t, chain(t), quietConfig(), 1)
			p := packetAt("r1", tc.pt, "internet", "lb", "vm")
			p.OriginRegion = tc.origin
			finishNow(s, "vm", p)

			// WHEN it is processed
			s.Tick(tick)

			// THEN the outgoing response carries the taint, the original does not
			require.Len(t, s.Packets(), 1)
			assert.Equal(t, tc.want, s.Packets()[0].SLAViolated)
			assert.False(t, p.SLAViolated)
		})
	}
}

func TestFinish_DatabaseRequestGoesDownstream(t *testing.T) {
	// GIVEN an http-db request finishing on a VM with a database behind it
	s := newTestSimulator(t, chain(t, KindSQLDB, KindBlobStorage), quietConfig(), 1)
	finishNow(s, "vm", packetAt("r1", PacketHTTPDB, "internet", "lb", "vm"))

	// WHEN it is processed
	s.Tick(tick)

	// THEN a db-query travels to the database
	require.Len(t, s.Packets(), 1)
	out := s.Packets()[0]
	assert.Equal(t, PacketDBQuery, out.Type)
	assert.Equal(t, "vm->sql-db", out.EdgeID)
	assert.Equal(t, []string{"internet", "lb", "vm", "sql-db"}, out.RouteStack)
}

func TestFinish_CarriersDoNotSatisfyCapability(t *testing.T) {
	tests := []struct {
		name       string
		pt         PacketType
		downstream ServiceKind
	}{
		{"db request behind a storage queue", PacketHTTPDB, KindStorageQueue},
		{"db request behind a load balancer", PacketHTTPDB, KindLoadBalancer},
		{"storage request behind a storage queue", PacketHTTPStorage, KindStorageQueue},
		{"storage request behind a load balancer", PacketHTTPStorage, KindLoadBalancer},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			// GIVEN a VM whose only downstream carries traffic but holds no data
			s := newTestSimulator(t, chain(t, tc.downstream), quietConfig(), 1)
			finishNow(s, "vm", packetAt("r1", tc.pt, "internet", "lb", "vm"))

			// WHEN the request is processed
			r := s.Tick(tick)

			// THEN it is rejected at the VM instead of being forwarded
			require.Len(t, r.Drops, 1)
			assert.Equal(t, DropCapabilityMissing, r.Drops[0].Reason)
			assert.Equal(t, "vm", r.Drops[0].NodeID)
			assert.Equal(t, tc.pt, r.Drops[0].Type)
			assert.Empty(t, s.Packets())
		})
	}
}

func TestFinish_GatewaySatisfiesCapability(t *testing.T) {
	// GIVEN a VM whose only downstream is a traffic manager
	s := newTestSimulator(t, chain(t, KindTrafficManager), quietConfig(), 1)
	finishNow(s, "vm", packetAt("r1", PacketHTTPStorage, "internet", "lb", "vm"))

	// WHEN the request is processed
	r := s.Tick(tick)

	// THEN the storage-op is forwarded to the gateway
	assert.Empty(t, r.Drops)
	require.Len(t, s.Packets(), 1)
	assert.Equal(t, PacketStorageOp, s.Packets()[0].Type)
	assert.Equal(t, "vm->traffic-manager", s.Packets()[0].EdgeID)
}

func TestFinish_Drops(t *testing.T) {
	tests := []struct {
		name      string
		at        string
		packet    *Packet
		reason    DropReason
		penalized bool
	}{
		{"db request without database", "vm", packetAt("r1", PacketHTTPDB, "internet", "lb", "vm"), DropCapabilityMissing, true},
		{"storage request without blob store", "vm", packetAt("r1", PacketHTTPStorage, "internet", "lb", "vm"), DropCapabilityMissing, true},
		{"request at dead end", "vm2", packetAt("r1", PacketHTTPCompute, "internet", "vm2"), DropNoRoute, true},
		{"response off its route", "vm", packetAt("r1", PacketHTTPCompute, "internet", "lb"), DropInvalidPath, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			// GIVEN a packet finishing where it cannot continue
			topo := chain(t)
			require.NoError(t, topo.AddNode(NewNode("vm2", KindLoadBalancer, DefaultCatalog())))
			s := newTestSimulator(t, topo, quietConfig(), 1)
			finishNow(s, tc.at, tc.packet)

			// WHEN it is processed
			r := s.Tick(tick)

			// THEN it is dropped at the node with the expected reason
			require.Len(t, r.Drops, 1)
			assert.Equal(t, tc.reason, r.Drops[0].Reason)
			assert.Equal(t, tc.at, r.Drops[0].NodeID)
			assert.Equal(t, tc.penalized, r.Drops[0].Penalized)
			assert.Empty(t, s.Packets())
			assert.Equal(t, 1, s.topo.Nodes[tc.at].TotalDropped())
			assert.InDelta(t, 1000-10, s.Ledger().Balance(), 1e-9)
		})
	}
}

func TestFinish_UnroutableAttackIsDiscardedSilently(t *testing.T) {
	// GIVEN an attack finishing on a balancer with nowhere to go
	topo := newTopoBuilder(t).node("internet", KindInternet, "").node("lb", KindLoadBalancer, "").edge("internet", "lb").build()
	s := newTestSimulator(t, topo, quietConfig(), 1)
	finishNow(s, "lb", packetAt("a1", PacketHTTPAttack, "internet", "lb"))

	// WHEN it is processed
	r := s.Tick(tick)

	// THEN it vanishes without a drop or penalty
	assert.Empty(t, r.Drops)
	assert.Empty(t, r.Ledger)
	assert.Empty(t, s.Packets())
}

func TestFinish_FirewallAbsorbsAttack(t *testing.T) {
	// GIVEN an attack finishing on a firewall in front of a VM
	topo := newTopoBuilder(t).node("internet", KindInternet, "").node("fw", KindFirewall, "").node("vm", KindVM, "").
		edge("internet", "fw").edge("fw", "vm").build()
	s := newTestSimulator(t, topo, quietConfig(), 1)
	finishNow(s, "fw", packetAt("a1", PacketHTTPAttack, "internet", "fw"))

	// WHEN it is processed
	r := s.Tick(tick)

	// THEN it is absorbed and goes nowhere
	require.Len(t, r.Absorbed, 1)
	assert.Equal(t, "fw", r.Absorbed[0].NodeID)
	assert.Empty(t, r.Drops)
	assert.Empty(t, s.Packets())
	assert.Equal(t, 1, s.Metrics().AttacksAbsorbed)
}

func TestFinish_QueueBackpressure(t *testing.T) {
	tests := []struct {
		name        string
		prefilled   int
		completing  int
		dispatched  int
		backpressed int
	}{
		{"target full", 7, 1, 0, 1},
		{"target has room", 3, 1, 1, 0},
		{"same-tick dispatches fill the target", 6, 2, 1, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			// GIVEN a storage queue in front of a VM (5 queue + 2 slots)
			topo := newTopoBuilder(t).node("internet", KindInternet, "").node("q", KindStorageQueue, "").node("vm", KindVM, "").
				edge("internet", "q").edge("q", "vm").build()
			s := newTestSimulator(t, topo, quietConfig(), 1)
			queueN(s, "vm", tc.prefilled)
			for i := 0; i < tc.completing; i++ {
				finishNow(s, "q", packetAt("r", PacketHTTPCompute, "internet", "q"))
			}

			// WHEN the queue's tasks complete
			r := s.Tick(tick)

			// THEN blocked packets are retried later instead of sent
			assert.Len(t, s.Packets(), tc.dispatched)
			assert.Equal(t, tc.backpressed, r.BackpressureRetries)
			retries := 0
			for _, task := range s.topo.Nodes["q"].ActiveTasks {
				if task.CompletesAt == 16+DefaultConfig().BackpressureRetryMs {
					retries++
				}
			}
			assert.Equal(t, tc.backpressed, retries)
			assert.Empty(t, r.Drops)
		})
	}
}

func TestTransform_CacheHitRate(t *testing.T) {
	// GIVEN a cache in front of a database
	topo := newTopoBuilder(t).node("redis", KindRedis, "").node("sql", KindSQLDB, "").edge("redis", "sql").build()
	s := newTestSimulator(t, topo, quietConfig(), 2024)
	d := newTickDelta(s.topo, 0)
	redis := d.stage("redis")

	// WHEN 10,000 queries are transformed
	hits := 0
	for i := 0; i < 10000; i++ {
		next, outcome := s.transform(d, redis, packetAt("q", PacketDBQuery, "vm", "redis"))
		require.Equal(t, OutcomeForward, outcome)
		if next == PacketDBResult {
			hits++
		} else {
			require.Equal(t, PacketDBQuery, next)
		}
	}

	// THEN about 35% short-circuit, each reported as a cache hit
	assert.InDelta(t, 0.35, float64(hits)/10000, 0.02)
	assert.Len(t, d.report.CacheHits, hits)
}

func TestTransform_CacheHitRespondsOnReturnPath(t *testing.T) {
	// GIVEN a query finishing on a cache that always hits
	cfg := quietConfig()
	cfg.CacheHitRate = 1
	topo := newTopoBuilder(t).node("vm", KindVM, "").node("redis", KindRedis, "").node("sql", KindSQLDB, "").
		edge("vm", "redis").edge("redis", "sql").build()
	s := newTestSimulator(t, topo, cfg, 1)
	finishNow(s, "redis", packetAt("q", PacketDBQuery, "internet", "vm", "redis"))

	// WHEN it is processed
	r := s.Tick(tick)

	// THEN a db-result goes back to the VM and the database is skipped
	require.Len(t, r.CacheHits, 1)
	require.Len(t, s.Packets(), 1)
	assert.Equal(t, PacketDBResult, s.Packets()[0].Type)
	assert.Equal(t, "vm->redis", s.Packets()[0].EdgeID)
	assert.True(t, s.Packets()[0].Reversed)
}
