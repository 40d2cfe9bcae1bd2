package splitpay

import "github.com/xraph/splitpay/id"

// ID is the primary identifier type for all splitpay entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
