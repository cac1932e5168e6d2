package sparkcloud

import (
	"time"

	"github.com/xraph/sparkcloud/internal/entity"
)

// Entity is the timestamp block embedded by persisted sparkcloud models.
type Entity = entity.Entity

// NewEntity returns an Entity with both timestamps set to the current UTC time.
func NewEntity() Entity {
	return entity.New()
}

func nowUTC() time.Time { return time.Now().UTC() }
