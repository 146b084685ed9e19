package sim

import "sort"

// ServiceKind identifies the catalog entry a node was built from.
// The set is closed: every kind appears in validServiceKinds and in the
// category predicates below.
type ServiceKind string

const (
	KindInternet       ServiceKind = "internet"
	KindVM             ServiceKind = "vm"
	KindAppService     ServiceKind = "app-service"
	KindFunctionApp    ServiceKind = "function-app"
	KindSQLDB          ServiceKind = "sql-db"
	KindSQLDBPremium   ServiceKind = "sql-db-premium"
	KindCosmosDB       ServiceKind = "cosmos-db"
	KindTrafficManager ServiceKind = "traffic-manager"
	KindLoadBalancer   ServiceKind = "load-balancer"
	KindStorageQueue   ServiceKind = "storage-queue"
	KindFirewall       ServiceKind = "firewall"
	KindWAF            ServiceKind = "waf"
	KindRedis          ServiceKind = "redis"
	KindBlobStorage    ServiceKind = "blob-storage"
	KindAzureMonitor   ServiceKind = "azure-monitor"
)

// validServiceKinds maps kind names to validity. Unexported to prevent mutation.
var validServiceKinds = map[ServiceKind]bool{
	KindInternet:       true,
	KindVM:             true,
	KindAppService:     true,
	KindFunctionApp:    true,
	KindSQLDB:          true,
	KindSQLDBPremium:   true,
	KindCosmosDB:       true,
	KindTrafficManager: true,
	KindLoadBalancer:   true,
	KindStorageQueue:   true,
	KindFirewall:       true,
	KindWAF:            true,
	KindRedis:          true,
	KindBlobStorage:    true,
	KindAzureMonitor:   true,
}

// IsValidServiceKind returns true if name is a recognized service kind.
func IsValidServiceKind(name string) bool { return validServiceKinds[ServiceKind(name)] }

// ServiceKinds returns all service kinds sorted by name.
func ServiceKinds() []ServiceKind {
	kinds := make([]ServiceKind, 0, len(validServiceKinds))
	for k := range validServiceKinds {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Category predicates. Each kind belongs to exactly one base category;
// distribution is the union of gateway and balancer.

func (k ServiceKind) IsOrigin() bool { return k == KindInternet }

func (k ServiceKind) IsCompute() bool {
	return k == KindVM || k == KindAppService || k == KindFunctionApp
}

// IsServerless reports kinds billed per execution.
func (k ServiceKind) IsServerless() bool { return k == KindFunctionApp }

func (k ServiceKind) IsDatabase() bool {
	return k == KindSQLDB || k == KindSQLDBPremium || k == KindCosmosDB
}

// IsGloballyDistributed reports databases exempt from the cross-region
// execution penalty.
func (k ServiceKind) IsGloballyDistributed() bool { return k == KindCosmosDB }

func (k ServiceKind) IsCache() bool     { return k == KindRedis }
func (k ServiceKind) IsBlobStore() bool { return k == KindBlobStorage }
func (k ServiceKind) IsQueue() bool     { return k == KindStorageQueue }

func (k ServiceKind) IsFirewall() bool { return k == KindFirewall || k == KindWAF }

func (k ServiceKind) IsGateway() bool  { return k == KindTrafficManager }
func (k ServiceKind) IsBalancer() bool { return k == KindLoadBalancer }

// IsDistribution reports gateway and balancer kinds.
func (k ServiceKind) IsDistribution() bool { return k.IsGateway() || k.IsBalancer() }

func (k ServiceKind) IsMonitoring() bool { return k == KindAzureMonitor }

// PacketType is the protocol stage a packet is currently in.
type PacketType string

const (
	PacketHTTPCompute   PacketType = "http-compute"
	PacketHTTPDB        PacketType = "http-db"
	PacketHTTPStorage   PacketType = "http-storage"
	PacketHTTPAttack    PacketType = "http-attack"
	PacketDBQuery       PacketType = "db-query"
	PacketDBResult      PacketType = "db-result"
	PacketHTTPResponse  PacketType = "http-response"
	PacketStorageOp     PacketType = "storage-op"
	PacketStorageResult PacketType = "storage-result"
	PacketLogEntry      PacketType = "log-entry"
)

var validPacketTypes = map[PacketType]bool{
	PacketHTTPCompute:   true,
	PacketHTTPDB:        true,
	PacketHTTPStorage:   true,
	PacketHTTPAttack:    true,
	PacketDBQuery:       true,
	PacketDBResult:      true,
	PacketHTTPResponse:  true,
	PacketStorageOp:     true,
	PacketStorageResult: true,
	PacketLogEntry:      true,
}

// IsValidPacketType returns true if name is a recognized packet type.
func IsValidPacketType(name string) bool { return validPacketTypes[PacketType(name)] }

// IsRequest reports the client-originated request kinds.
func (t PacketType) IsRequest() bool {
	return t == PacketHTTPCompute || t == PacketHTTPDB || t == PacketHTTPStorage
}

// IsResponsePhase reports kinds that must retrace the recorded route.
func (t PacketType) IsResponsePhase() bool {
	return t == PacketHTTPResponse || t == PacketDBResult || t == PacketStorageResult
}

func (t PacketType) IsAttack() bool    { return t == PacketHTTPAttack }
func (t PacketType) IsTelemetry() bool { return t == PacketLogEntry }

// IsCustomer reports customer-facing traffic, the only kind that is penalized
// when it fails.
func (t PacketType) IsCustomer() bool { return !t.IsAttack() && !t.IsTelemetry() }

// ProvidedBy reports whether a downstream node of kind k can serve the
// follow-up operation of request t at a compute node. It is narrower than
// AcceptsTarget: queues and balancers carry db and storage traffic but do not
// provide the backing resource.
func (t PacketType) ProvidedBy(k ServiceKind) bool {
	switch t {
	case PacketHTTPDB:
		return k.IsDatabase() || k.IsCache() || k.IsGateway()
	case PacketHTTPStorage:
		return k.IsBlobStore() || k.IsGateway()
	default:
		return true
	}
}

// AcceptsTarget reports whether a packet of type t may be forwarded to a node
// of kind k.
func (t PacketType) AcceptsTarget(k ServiceKind) bool {
	switch t {
	case PacketDBQuery:
		return k.IsDatabase() || k.IsCache() || k.IsQueue() || k.IsDistribution()
	case PacketStorageOp:
		return k.IsBlobStore() || k.IsQueue() || k.IsDistribution()
	case PacketDBResult, PacketStorageResult:
		return k.IsCompute() || k.IsFirewall() || k.IsQueue() || k.IsCache() || k.IsDistribution()
	case PacketHTTPResponse:
		return k.IsOrigin() || k.IsDistribution() || k.IsFirewall() || k.IsQueue()
	case PacketHTTPCompute, PacketHTTPDB, PacketHTTPStorage:
		return k.IsCompute() || k.IsDistribution() || k.IsFirewall() || k.IsQueue()
	case PacketHTTPAttack, PacketLogEntry:
		return true
	default:
		return false
	}
}
