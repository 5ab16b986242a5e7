package store

import "time"

// SearchStatus is the lifecycle state of a queued search.
type SearchStatus string

// Search lifecycle. A search only moves waiting -> processing -> terminal;
// terminal states are final unless an operator re-enqueues.
const (
	SearchWaiting    SearchStatus = "waiting"
	SearchProcessing SearchStatus = "processing"
	SearchError      SearchStatus = "error"
	SearchConcluido  SearchStatus = "concluido"
)

// Terminal reports whether the status admits no further transitions.
func (s SearchStatus) Terminal() bool {
	return s == SearchError || s == SearchConcluido
}

// CampaignStatus is the aggregate state of a campaign.
type CampaignStatus string

const (
	CampaignAtiva           CampaignStatus = "ativa"
	CampaignConcluida       CampaignStatus = "concluida"
	CampaignCancelada       CampaignStatus = "cancelada"
	CampaignPendente        CampaignStatus = "pendente"
	CampaignEmProcessamento CampaignStatus = "em_processamento"
)

// Campaign groups related searches under one aggregate lifecycle.
// Campaigns are never physically deleted; cancellation is a status flip.
type Campaign struct {
	ID        int64
	Nome      string
	Status    CampaignStatus
	CreatedAt time.Time
}

// SearchParams is a submission request for one scrape search.
type SearchParams struct {
	CampaignID   *int64
	Region       string
	BusinessType string
	Keywords     []string
	MaxResults   int
}

// Search is the atomic unit of queued work, one row in buscas.
type Search struct {
	ID           int64
	CampaignID   *int64
	Region       string
	BusinessType string
	Keywords     []string
	MaxResults   int
	Status       SearchStatus
	SubmittedAt  time.Time
	ProcessingAt *time.Time
	FinishedAt   *time.Time
	ErrorMessage *string
}

// Lead is one scraped business record attached to a completed search.
// Rows are immutable once written; the phone number is unique across all
// searches and conflicting inserts are dropped, not overwritten.
type Lead struct {
	ID          int64
	SearchID    int64
	NomeEmpresa string
	NomeLead    string
	Telefone    string
	Localizacao string
	Avaliacao   float64
	Reviews     int
	TipoEmpresa string
	Website     string
}

// SearchSummary is the status-poll view of a search.
type SearchSummary struct {
	Search Search
	Leads  []Lead
}

// QueueStats is a point-in-time snapshot of the queue, for operators.
type QueueStats struct {
	Waiting    int
	Processing int
	Completed  int
	Errors     int
	NextUp     []Search
}

// APIKey is a stored credential. Only the SHA-256 hash of the secret is
// ever persisted.
type APIKey struct {
	ID         int64
	KeyHash    string
	Name       string
	CreatedAt  time.Time
	ExpiresAt  *time.Time
	IsActive   bool
	LastUsedAt *time.Time
	UseCount   int64
	AllowedIPs []string
}

// Expired reports whether the key's expiry has passed at the given instant.
func (k APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// AllowsIP reports whether the key's allowlist admits the source address.
// An empty allowlist admits every address.
func (k APIKey) AllowsIP(ip string) bool {
	if len(k.AllowedIPs) == 0 {
		return true
	}
	for _, allowed := range k.AllowedIPs {
		if allowed == ip {
			return true
		}
	}
	return false
}
