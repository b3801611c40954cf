package odontogram

import (
	"errors"
	"fmt"
)

// Apply rejections. They are ordinary interactive mistakes: the session is
// left untouched and the caller shows the reason inline.
var (
	ErrToothRequired     = errors.New("tooth id is required")
	ErrSurfacesRequired  = errors.New("at least one surface is required")
	ErrUnknownProcedure  = errors.New("procedure is not in the catalog")
	ErrAreasRequired     = errors.New("affected areas are required")
	ErrAreaNotAllowed    = errors.New("affected area not allowed for this diagnosis")
	ErrUnknownTooth      = errors.New("unknown tooth")
	ErrInvalidSurface    = errors.New("surface is not valid for this tooth")
	ErrAreaMismatch      = errors.New("selected surfaces do not match the affected areas")
	ErrToothBlocked      = errors.New("tooth is blocked by an absence or extraction finding")
	ErrInvalidAttributes = errors.New("invalid clinical attributes")
	ErrEntryNotFound     = errors.New("entry not found")
	ErrGroupNotFound     = errors.New("diagnostic group not found")
)

var rejectionCodes = map[error]string{
	ErrToothRequired:     "tooth_required",
	ErrSurfacesRequired:  "surfaces_required",
	ErrUnknownProcedure:  "unknown_procedure",
	ErrAreasRequired:     "areas_required",
	ErrAreaNotAllowed:    "area_not_allowed",
	ErrUnknownTooth:      "unknown_tooth",
	ErrInvalidSurface:    "invalid_surface",
	ErrAreaMismatch:      "area_mismatch",
	ErrToothBlocked:      "tooth_blocked",
	ErrInvalidAttributes: "invalid_attributes",
	ErrEntryNotFound:     "entry_not_found",
	ErrGroupNotFound:     "group_not_found",
}

// Rejection is the value returned for a refused operation.
type Rejection struct {
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
	Err    error  `json:"-"`
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return r.Err.Error()
	}
	return fmt.Sprintf("%s: %s", r.Err.Error(), r.Detail)
}

func (r *Rejection) Unwrap() error { return r.Err }

func reject(err error, format string, args ...any) *Rejection {
	return &Rejection{Code: rejectionCodes[err], Detail: fmt.Sprintf(format, args...), Err: err}
}

// AsRejection extracts a Rejection from err.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
