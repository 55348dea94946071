package reportflow

import "github.com/xraph/reportflow/id"

// ID is the primary identifier type for all reportflow entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
