package store

// Stores is the top-level container for all storage backends. Both SQL
// backends (sqlite standalone, postgres managed) populate every field.
type Stores struct {
	Contacts  ContactStore
	Instances InstanceStore
	Routes    RouteStore
	Sessions  SessionStore
	Outbound  OutboundStore
}

// StoreConfig selects and configures a storage backend.
type StoreConfig struct {
	Backend     string // "sqlite" (default) or "postgres"
	SQLitePath  string
	PostgresDSN string
}
