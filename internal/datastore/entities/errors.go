package entities

import "github.com/tphakala/notifyroute/internal/errors"

// ErrDeliveryLogImmutable is returned when code tries to update a log row.
var ErrDeliveryLogImmutable = errors.New("delivery log rows are append-only")
