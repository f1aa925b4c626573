package collectionindex

import (
	"fmt"
	"math"
	"strings"
	"time"

	"collection-viewer/internal/errs"
	"collection-viewer/internal/models"
)

// Prefix namespaces every key the index writes. Everything under it is
// derived from the document store and safe to flush.
const Prefix = "collection_index:"

// Role prefixes under Prefix.
const (
	sortedPrefix = Prefix + "sorted:"
	dataPrefix   = Prefix + "data:"
	statePrefix  = Prefix + "state:"
	thumbPrefix  = Prefix + "thumb:"

	statsTotalKey     = Prefix + "stats:total"
	lastRebuildKey    = Prefix + "last_rebuild"
	dashboardStatsKey = Prefix + "dashboard:statistics"
	dashboardFeedKey  = Prefix + "dashboard:metadata"
)

// SortField names an ordering the index maintains sorted sets for.
type SortField string

// Indexed sort fields. Each is kept in both directions, so the primary
// index is ten sorted sets.
const (
	FieldUpdatedAt  SortField = "updatedAt"
	FieldCreatedAt  SortField = "createdAt"
	FieldName       SortField = "name"
	FieldImageCount SortField = "imageCount"
	FieldTotalSize  SortField = "totalSize"
)

// SortDirection is the traversal direction of an ordering.
type SortDirection string

// Sort directions.
const (
	Asc  SortDirection = "asc"
	Desc SortDirection = "desc"
)

// SortFields returns every indexed field.
func SortFields() []SortField {
	return []SortField{FieldUpdatedAt, FieldCreatedAt, FieldName, FieldImageCount, FieldTotalSize}
}

// Directions returns both traversal directions.
func Directions() []SortDirection {
	return []SortDirection{Asc, Desc}
}

// ParseSort validates a field/direction pair from request input. Empty
// strings select the default ordering, updatedAt descending.
func ParseSort(field, direction string) (SortField, SortDirection, error) {
	f := SortField(field)
	if field == "" {
		f = FieldUpdatedAt
	}
	switch f {
	case FieldUpdatedAt, FieldCreatedAt, FieldName, FieldImageCount, FieldTotalSize:
	default:
		return "", "", errs.Validationf("unknown sort field %q", field)
	}

	d := SortDirection(direction)
	if direction == "" {
		d = Desc
	}
	switch d {
	case Asc, Desc:
	default:
		return "", "", errs.Validationf("unknown sort direction %q", direction)
	}

	return f, d, nil
}

func primaryKey(field SortField, dir SortDirection) string {
	return fmt.Sprintf("%s%s:%s", sortedPrefix, field, dir)
}

func libraryKey(libraryID string, field SortField, dir SortDirection) string {
	return fmt.Sprintf("%sby_library:%s:%s:%s", sortedPrefix, libraryID, field, dir)
}

func typeKey(code int, field SortField, dir SortDirection) string {
	return fmt.Sprintf("%sby_type:%d:%s:%s", sortedPrefix, code, field, dir)
}

func dataKey(id string) string  { return dataPrefix + id }
func stateKey(id string) string { return statePrefix + id }
func thumbKey(id string) string { return thumbPrefix + id }

// nameScoreRunes is how many leading code points participate in a name
// score. Names that agree over the whole window tie on score and order by
// id through the sorted set's member tiebreak.
const nameScoreRunes = 10

func directionSign(dir SortDirection) float64 {
	if dir == Desc {
		return -1
	}
	return 1
}

// scoreTime maps a timestamp to 100ns ticks. Tick resolution keeps the
// value inside float64 integer precision for any realistic clock reading.
func scoreTime(t time.Time, dir SortDirection) float64 {
	return float64(t.UnixNano()/100) * directionSign(dir)
}

func scoreCount(v int64, dir SortDirection) float64 {
	return float64(v) * directionSign(dir)
}

// scoreName packs the first nameScoreRunes code points of the lowercased,
// trimmed name into a base-256 positional value, so ascending score order
// preserves prefix order over that window.
func scoreName(name string, dir SortDirection) float64 {
	normalized := strings.ToLower(strings.TrimSpace(name))

	var score float64
	i := 0
	for _, r := range normalized {
		if i == nameScoreRunes {
			break
		}
		score += float64(r) * math.Pow(256, float64(nameScoreRunes-1-i))
		i++
	}

	return score * directionSign(dir)
}

// scoreFor derives the sorted-set score of a collection for one ordering.
func scoreFor(c *models.Collection, field SortField, dir SortDirection) float64 {
	switch field {
	case FieldCreatedAt:
		return scoreTime(c.CreatedAt, dir)
	case FieldName:
		return scoreName(c.Name, dir)
	case FieldImageCount:
		return scoreCount(int64(len(c.Images)), dir)
	case FieldTotalSize:
		return scoreCount(c.Statistics.TotalSize, dir)
	default:
		return scoreTime(c.UpdatedAt, dir)
	}
}
