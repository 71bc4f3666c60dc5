// Package model defines the typed records persisted by the ingestion
// pipeline: sources, documents, files, cases, and the evidence that backs
// them. These are plain data shapes; the transactional operations over them
// live in internal/store.
package model

import "time"

// Platform identifies the upstream publishing system a Source is read from.
type Platform string

const (
	PlatformCloudNC           Platform = "cloudnc"
	PlatformDynasty           Platform = "dynasty"
	PlatformTWeb              Platform = "tweb"
	PlatformMunicipalWebsite  Platform = "municipal_website"
)

// DocType classifies the kind of municipal item a Document represents.
type DocType string

const (
	DocTypeAgenda       DocType = "agenda"
	DocTypeMinutes      DocType = "minutes"
	DocTypeDecision     DocType = "decision"
	DocTypeAnnouncement DocType = "announcement"
)

// DocStatus is a Document's position in the Discover -> Fetch -> Extract ->
// Triage -> CaseBuild state machine.
type DocStatus string

const (
	DocStatusNew       DocStatus = "new"
	DocStatusFetched   DocStatus = "fetched"
	DocStatusExtracted DocStatus = "extracted"
	DocStatusProcessed DocStatus = "processed"
	DocStatusError     DocStatus = "error"
)

// TextStatus tracks a File's progress through text extraction and OCR.
type TextStatus string

const (
	TextStatusPending   TextStatus = "pending"
	TextStatusExtracted TextStatus = "extracted"
	TextStatusOCRQueued TextStatus = "ocr_queued"
	TextStatusOCRDone   TextStatus = "ocr_done"
	TextStatusFailed    TextStatus = "failed"
)

// Category is one of the four environmental decision categories a Case can
// carry as its primary_category.
type Category string

const (
	CategoryZoning               Category = "zoning"
	CategoryPermitsExtraction    Category = "permits_extraction"
	CategoryWaterWetlands        Category = "water_wetlands"
	CategoryIndustryInfrastructure Category = "industry_infrastructure"
)

// CaseStatus reflects where a Case's underlying decision stands.
type CaseStatus string

const (
	CaseStatusProposed CaseStatus = "proposed"
	CaseStatusApproved CaseStatus = "approved"
	CaseStatusUnknown  CaseStatus = "unknown"
)

// Confidence is a coarse, human-meaningful grade for a Case's synthesis.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// CaseEventType enumerates the append-only event kinds recorded against a Case.
type CaseEventType string

const (
	EventApproved        CaseEventType = "approved"
	EventPublishedNotice  CaseEventType = "published_notice"
	EventComplaintWindow  CaseEventType = "complaint_window"
	EventNextHandling     CaseEventType = "next_handling"
	EventEvidenceAdded    CaseEventType = "evidence_added"
)

// Source is one monitored endpoint at a municipality/platform.
type Source struct {
	ID                 string
	Municipality       string
	Platform           Platform
	BaseURL            string
	Enabled            bool
	ConfigJSON         string
	LastSuccessAt      *time.Time
	LastError          string
	ConsecutiveFailures int
	NextAttemptAt       *time.Time
}

// SourceConfig is the decoded shape of Source.ConfigJSON (§6).
type SourceConfig struct {
	ListingPaths []string          `json:"listing_paths"`
	Paths        SourceConfigPaths `json:"paths"`
	Municipality string            `json:"municipality"`
	BodyPatterns map[string]string `json:"body_patterns,omitempty"`
	PDFPattern   string            `json:"pdf_pattern,omitempty"`
}

// SourceConfigPaths names the per-document-type listing paths a connector
// may consult. Unused fields for a given platform are left empty.
type SourceConfigPaths struct {
	Meetings          string `json:"meetings,omitempty"`
	Agendas           string `json:"agendas,omitempty"`
	OfficerDecisions  string `json:"officer_decisions,omitempty"`
	Announcements     string `json:"announcements,omitempty"`
}

// DocumentRef is the uniform shape every Connector variant produces from
// discovery, before it has been persisted as a Document.
type DocumentRef struct {
	Municipality string
	Platform     Platform
	Body         string
	MeetingDate  *time.Time
	PublishedAt  *time.Time
	DocType      DocType
	Title        string
	SourceURL    string
	FileURLs     []string
	ExternalID   string
}

// Document is one discovered item on an upstream platform.
type Document struct {
	ID            string
	SourceID      string
	ExternalID    string
	DocType       DocType
	Title         string
	Body          string
	MeetingDate   *time.Time
	PublishedAt   *time.Time
	SourceURL     string
	DiscoveredAt  time.Time
	ContentHash   string
	Status        DocStatus
	RetryCount    int
	FileURLs      []string
	TriageCategories      []string
	TriageRelevanceScore  float64
	TriageReason          string
}

// File is a binary artifact attached to a Document.
type File struct {
	ID          string
	DocumentID  string
	URL         string
	Mime        string
	ByteLength  int64
	StoragePath string
	TextStatus  TextStatus
	TextContent string
}

// Case is an aggregated environmental matter spanning one or more Documents.
type Case struct {
	ID                string
	PrimaryCategory   Category
	Headline          string
	Summary           string
	Status            CaseStatus
	Confidence        Confidence
	ConfidenceReason  string
	Municipalities    []string
	Entities          []string
	Locations         []string
	FirstSeenAt       time.Time
	UpdatedAt         time.Time
}

// CaseEvent is one append-only timeline entry for a Case.
type CaseEvent struct {
	ID        string
	CaseID    string
	EventType CaseEventType
	EventTime time.Time
	Payload   string
	Sequence  int64
}

// Evidence is a text snippet with page and source URL cited by a Case.
type Evidence struct {
	ID         string
	CaseID     string
	FileID     string
	DocumentID string
	Page       int
	Snippet    string
	SourceURL  string
}

// LLMUsage records the tokens and estimated cost of one model call, for
// budget enforcement and the health CLI's monthly spend report.
type LLMUsage struct {
	ID             string
	Model          string
	Stage          string
	DocumentID     string
	TokensIn       int
	TokensOut      int
	EstimatedCostCents int64
	OccurredAt     time.Time
}

// SourceDiagnostic is a persisted error-trail row backing the health CLI.
type SourceDiagnostic struct {
	ID         string
	SourceID   string
	DocumentID string
	Stage      string
	ErrorKind  string
	Message    string
	OccurredAt time.Time
}
