package models

import "time"

// RankedCollection is one entry of a dashboard top-N list; Value is the
// metric the list is ranked by (views or bytes).
type RankedCollection struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Value int64  `json:"value"`
}

// RecentCollection is one entry of the recently-added dashboard list
type RecentCollection struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// CacheFolderSnapshot is the dashboard view of one cache folder
type CacheFolderSnapshot struct {
	Name               string  `json:"name"`
	Path               string  `json:"path"`
	CurrentSizeBytes   int64   `json:"currentSizeBytes"`
	MaxSizeBytes       int64   `json:"maxSizeBytes"`
	TotalFiles         int64   `json:"totalFiles"`
	UtilizationPercent float64 `json:"utilizationPercent"`
}

// SystemHealth is a point-in-time snapshot of component reachability
type SystemHealth struct {
	IndexStoreConnected bool  `json:"indexStoreConnected"`
	DocStoreConnected   bool  `json:"docStoreConnected"`
	BrokerConnected     bool  `json:"brokerConnected"`
	PendingJobs         int64 `json:"pendingJobs"`
}

// DashboardStatistics is the aggregated snapshot cached with a short TTL
type DashboardStatistics struct {
	TotalCollections  int64                 `json:"totalCollections"`
	TotalImages       int64                 `json:"totalImages"`
	TotalSizeBytes    int64                 `json:"totalSizeBytes"`
	TotalViews        int64                 `json:"totalViews"`
	CollectionsByType map[string]int64      `json:"collectionsByType"`
	TopByViews        []RankedCollection    `json:"topByViews"`
	TopBySize         []RankedCollection    `json:"topBySize"`
	RecentlyAdded     []RecentCollection    `json:"recentlyAdded"`
	CacheFolders      []CacheFolderSnapshot `json:"cacheFolders"`
	Health            SystemHealth          `json:"health"`
	GeneratedAt       time.Time             `json:"generatedAt"`
}

// ActivityEntry is one element of the bounded dashboard activity feed
type ActivityEntry struct {
	At      time.Time `json:"at"`
	Kind    string    `json:"kind"`
	Subject string    `json:"subject"`
	Detail  string    `json:"detail,omitempty"`
}
