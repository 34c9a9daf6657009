package models

// Sync run lifecycle.
const (
	SyncRunStatusRunning = "RUNNING"
	SyncRunStatusOK      = "OK"
	SyncRunStatusPartial = "PARTIAL"
	SyncRunStatusError   = "ERROR"
)

// Orchestrator stages, recorded on the run row as it advances.
const (
	SyncStageInitiated          = "INITIATED"
	SyncStageRawIngesting       = "RAW_INGESTING"
	SyncStageResolvingProjects  = "RESOLVING_PROJECTS"
	SyncStageResolvingAgents    = "RESOLVING_AGENTS"
	SyncStageResolvingCustomers = "RESOLVING_CUSTOMERS"
	SyncStageSyncingSales       = "SYNCING_SALES"
	SyncStageSyncingUnits       = "SYNCING_UNITS"
	SyncStageReconciling        = "RECONCILING"
	SyncStageCompleted          = "COMPLETED"
)

// Invocation modes accepted by the orchestrator entry point.
const (
	SyncModeFull        = "full"
	SyncModeIngestOnly  = "ingest"
	SyncModeResolveOnly = "resolve"
)

const (
	SyncTriggeredManual   = "manual"
	SyncTriggeredSchedule = "schedule"
	SyncTriggeredSystem   = "system"
)

// Upstream entity types held in the raw store.
const (
	EntityTypeAgent    = "agent"
	EntityTypeCustomer = "customer"
	EntityTypeProject  = "project"
	EntityTypeUnit     = "unit"
	EntityTypeSale     = "sale"
)

// InstallmentCategory is the canonical classification of a payment-condition
// entry. Persisted on installment rows.
type InstallmentCategory string

const (
	CategoryDownPayment            InstallmentCategory = "DOWN_PAYMENT"
	CategoryInstallmentDownPayment InstallmentCategory = "INSTALLMENT_DOWN_PAYMENT"
	CategoryBalloon                InstallmentCategory = "BALLOON"
	CategoryPaymentInKind          InstallmentCategory = "PAYMENT_IN_KIND"
)

// Agent classes carry distinct commission percentages per project.
type AgentClass string

const (
	AgentClassInternal AgentClass = "INTERNAL"
	AgentClassExternal AgentClass = "EXTERNAL"
	AgentClassPartner  AgentClass = "PARTNER"
)

const (
	SaleStatusActive    = "ACTIVE"
	SaleStatusCancelled = "CANCELLED"
	SaleStatusSettled   = "SETTLED"
)

const (
	UnitStatusAvailable = "AVAILABLE"
	UnitStatusReserved  = "RESERVED"
	UnitStatusSold      = "SOLD"
)

const (
	InstallmentStatusPending = "PENDING"
	InstallmentStatusPaid    = "PAID"
	InstallmentStatusOverdue = "OVERDUE"
)

// PlaceholderEmailDomain is the reserved domain written into synthetic
// contact fields of placeholder agents/customers. The bulk-provisioning
// flow relies on it to tell placeholders apart from real accounts.
const PlaceholderEmailDomain = "sync.invalid"
