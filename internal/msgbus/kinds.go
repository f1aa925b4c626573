package msgbus

// Kind tags a message category. Every kind maps to exactly one queue and
// routing key via the static table below; dispatch never inspects payload
// types.
type Kind int

const (
	// KindCollectionScan requests a full rescan of one collection.
	KindCollectionScan Kind = iota
	// KindThumbnailGeneration requests thumbnail rendering for a collection.
	KindThumbnailGeneration
	// KindCacheGeneration requests cache image rendering for a collection.
	KindCacheGeneration
	// KindCollectionCreation announces a newly registered collection.
	KindCollectionCreation
	// KindBulkOperation carries a multi-collection operation request.
	KindBulkOperation
	// KindImageProcessing requests processing of a single image.
	KindImageProcessing
	// KindLibraryScan requests a scan of an entire library root.
	KindLibraryScan
)

type route struct {
	queue       string
	routingKey  string
	messageType string
}

var routes = map[Kind]route{
	KindCollectionScan:      {"collection_scan_queue", "collection.scan", "collection_scan"},
	KindThumbnailGeneration: {"thumbnail_generation_queue", "thumbnail.generation", "thumbnail_generation"},
	KindCacheGeneration:     {"cache_generation_queue", "cache.generation", "cache_generation"},
	KindCollectionCreation:  {"collection_creation_queue", "collection.creation", "collection_creation"},
	KindBulkOperation:       {"bulk_operation_queue", "bulk.operation", "bulk_operation"},
	KindImageProcessing:     {"image_processing_queue", "image.processing", "image_processing"},
	KindLibraryScan:         {"library_scan_queue", "library_scan_queue", "library_scan"},
}

// AllKinds returns every kind in declaration order; topology setup iterates
// this so adding a kind to the table above is the whole registration.
func AllKinds() []Kind {
	return []Kind{
		KindCollectionScan,
		KindThumbnailGeneration,
		KindCacheGeneration,
		KindCollectionCreation,
		KindBulkOperation,
		KindImageProcessing,
		KindLibraryScan,
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	_, ok := routes[k]
	return ok
}

// Queue returns the queue a kind's messages land on.
func (k Kind) Queue() string {
	return routes[k].queue
}

// RoutingKey returns the topic routing key for a kind.
func (k Kind) RoutingKey() string {
	return routes[k].routingKey
}

// String returns the messageType header value for a kind.
func (k Kind) String() string {
	r, ok := routes[k]
	if !ok {
		return "unknown"
	}
	return r.messageType
}

// KindForMessageType is the inverse of String, used by consumers to check
// the header on inbound deliveries.
func KindForMessageType(messageType string) (Kind, bool) {
	for k, r := range routes {
		if r.messageType == messageType {
			return k, true
		}
	}
	return 0, false
}
