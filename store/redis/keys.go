package redis

// Key prefixes for primary entity storage.
const (
	prefixWebhook   = "sparkcloud:hook:"
	prefixDevice    = "sparkcloud:dev:"
	prefixDeviceKey = "sparkcloud:devkey:"
)

// Key prefixes for indexes.
const (
	zWebhookAll   = "sparkcloud:z:hook:all"
	zWebhookOwner = "sparkcloud:z:hook:owner:" // + owner ID
	sDeviceOwner  = "sparkcloud:s:dev:owner:"  // + owner ID
)

// entityKey returns the primary key for an entity.
func entityKey(prefix, id string) string {
	return prefix + id
}
