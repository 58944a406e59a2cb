package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var ErrAlreadyExists = fmt.Errorf("already exists")
var ErrInternal = fmt.Errorf("internal error")
var ErrNotFound = fmt.Errorf("not found")
var ErrBadRequest = fmt.Errorf("bad request")
var ErrInvalidRequest = fmt.Errorf("invalid request")
var ErrUnauthorized = fmt.Errorf("unauthorized")

type myError struct {
	msg    string
	target error
}

func (m myError) Error() string        { return m.msg }
func (m myError) Is(target error) bool { return target == m.target }

func NewAlreadyExistsError(msg string) error {
	return &myError{
		msg:    msg,
		target: ErrAlreadyExists,
	}
}

func NewBadRequestDataError(msg string) error {
	return &myError{
		msg:    msg,
		target: ErrBadRequest,
	}
}

func NewInvalidRequestError(msg string) error {
	return &myError{
		msg:    msg,
		target: ErrInvalidRequest,
	}
}

func NewNotFoundError(msg string) error {
	return &myError{
		msg:    msg,
		target: ErrNotFound,
	}
}

func NewUnauthorizedError(msg string) error {
	return &myError{
		msg:    msg,
		target: ErrUnauthorized,
	}
}

// NewEntityNotFoundError is the error returned by every operation that requires an existing entity
func NewEntityNotFoundError(entityID string) error {
	return NewNotFoundError(fmt.Sprintf("Entity %s does not exist", entityID))
}

// NewInvalidURIError reports an identifier that could not be parsed as an absolute URI
func NewInvalidURIError(id string) error {
	return NewBadRequestDataError(fmt.Sprintf("The supplied identifier was expected to be an URI but it is not: %s", id))
}

// IsKnown returns true if the error belongs to the NGSI-LD error taxonomy and
// should not be reported as an internal error
func IsKnown(err error) bool {
	return errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrBadRequest) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrUnauthorized)
}

const (
	AlreadyExistsType    string = "https://uri.etsi.org/ngsi-ld/errors/AlreadyExists"
	BadRequestDataType   string = "https://uri.etsi.org/ngsi-ld/errors/BadRequestData"
	InvalidRequestType   string = "https://uri.etsi.org/ngsi-ld/errors/InvalidRequest"
	InternalErrorType    string = "https://uri.etsi.org/ngsi-ld/errors/InternalError"
	ResourceNotFoundType string = "https://uri.etsi.org/ngsi-ld/errors/ResourceNotFound"
	UnauthorizedType     string = "https://uri.etsi.org/ngsi-ld/errors/UnauthorizedRequest"
)

// ProblemDetails stores details about a certain problem according to RFC7807
// See https://tools.ietf.org/html/rfc7807
type ProblemDetails interface {
	ContentType() string
	MarshalJSON() ([]byte, error)
	ResponseCode() int
	WriteResponse(w http.ResponseWriter)
}

// ProblemDetailsImpl is an implementation of the ProblemDetails interface
type ProblemDetailsImpl struct {
	typ     string
	title   string
	detail  string
	code    int
	traceID string
}

const (
	//ProblemReportContentType as required by https://tools.ietf.org/html/rfc7807
	ProblemReportContentType string = "application/problem+json"
)

func newProblem(typ, title, detail string, code int, traceID string) ProblemDetailsImpl {
	return ProblemDetailsImpl{typ: typ, title: title, detail: detail, code: code, traceID: traceID}
}

// AlreadyExists reports that the request tries to create an already existing entity
type AlreadyExists struct {
	ProblemDetailsImpl
}

// NewAlreadyExists creates and returns a new instance of an AlreadyExists with the supplied problem detail
func NewAlreadyExists(detail, traceID string) *AlreadyExists {
	return &AlreadyExists{
		ProblemDetailsImpl: newProblem(AlreadyExistsType, "Already Exists", detail, http.StatusConflict, traceID),
	}
}

// ReportNewAlreadyExistsError creates an AlreadyExists instance and sends it to the supplied http.ResponseWriter
func ReportNewAlreadyExistsError(w http.ResponseWriter, detail, traceID string) {
	NewAlreadyExists(detail, traceID).WriteResponse(w)
}

// BadRequestData reports that the request includes input data which does not meet the requirements of the operation
type BadRequestData struct {
	ProblemDetailsImpl
}

// NewBadRequestData creates and returns a new instance of a BadRequestData with the supplied problem detail
func NewBadRequestData(detail, traceID string) *BadRequestData {
	return &BadRequestData{
		ProblemDetailsImpl: newProblem(BadRequestDataType, "Bad Request Data", detail, http.StatusBadRequest, traceID),
	}
}

// ReportNewBadRequestData creates a BadRequestData instance and sends it to the supplied http.ResponseWriter
func ReportNewBadRequestData(w http.ResponseWriter, detail, traceID string) {
	NewBadRequestData(detail, traceID).WriteResponse(w)
}

// InvalidRequest reports that the request associated to the operation is syntactically
// invalid or includes wrong content
type InvalidRequest struct {
	ProblemDetailsImpl
}

// NewInvalidRequest creates and returns a new instance of an InvalidRequest with the supplied problem detail
func NewInvalidRequest(detail, traceID string) *InvalidRequest {
	return &InvalidRequest{
		ProblemDetailsImpl: newProblem(InvalidRequestType, "Invalid Request", detail, http.StatusBadRequest, traceID),
	}
}

// ReportNewInvalidRequest creates an InvalidRequest instance and sends it to the supplied http.ResponseWriter
func ReportNewInvalidRequest(w http.ResponseWriter, detail, traceID string) {
	NewInvalidRequest(detail, traceID).WriteResponse(w)
}

// InternalError reports that there has been an error during the operation execution
type InternalError struct {
	ProblemDetailsImpl
}

func (ie InternalError) Error() string {
	return ie.detail
}

func (ie InternalError) Is(target error) bool {
	return target == ErrInternal
}

// NewInternalError creates and returns a new instance of an InternalError with the supplied problem detail
func NewInternalError(detail, traceID string) *InternalError {
	return &InternalError{
		ProblemDetailsImpl: newProblem(InternalErrorType, "Internal Error", detail, http.StatusInternalServerError, traceID),
	}
}

// ReportNewInternalError creates an InternalError instance and sends it to the supplied http.ResponseWriter
func ReportNewInternalError(w http.ResponseWriter, detail, traceID string) {
	NewInternalError(detail, traceID).WriteResponse(w)
}

// NotFound reports that the request failed with a not found error of some kind
type NotFound struct {
	ProblemDetailsImpl
}

// NewNotFound creates and returns a new instance of a NotFound with the supplied problem detail
func NewNotFound(detail, traceID string) *NotFound {
	return &NotFound{
		ProblemDetailsImpl: newProblem(ResourceNotFoundType, "Not Found", detail, http.StatusNotFound, traceID),
	}
}

// ReportNotFoundError creates a NotFound instance and sends it to the supplied http.ResponseWriter
func ReportNotFoundError(w http.ResponseWriter, detail, traceID string) {
	NewNotFound(detail, traceID).WriteResponse(w)
}

type UnauthorizedRequest struct {
	ProblemDetailsImpl
}

func NewUnauthorizedRequest(detail, traceID string) *UnauthorizedRequest {
	return &UnauthorizedRequest{
		ProblemDetailsImpl: newProblem(UnauthorizedType, "Unauthorized Request", detail, http.StatusForbidden, traceID),
	}
}

func ReportUnauthorizedRequest(w http.ResponseWriter, detail, traceID string) {
	NewUnauthorizedRequest(detail, traceID).WriteResponse(w)
}

// ReportError maps an error from the taxonomy above to its problem report
func ReportError(w http.ResponseWriter, err error, traceID string) {
	switch {
	case errors.Is(err, ErrAlreadyExists):
		ReportNewAlreadyExistsError(w, err.Error(), traceID)
	case errors.Is(err, ErrNotFound):
		ReportNotFoundError(w, err.Error(), traceID)
	case errors.Is(err, ErrBadRequest):
		ReportNewBadRequestData(w, err.Error(), traceID)
	case errors.Is(err, ErrInvalidRequest):
		ReportNewInvalidRequest(w, err.Error(), traceID)
	case errors.Is(err, ErrUnauthorized):
		ReportUnauthorizedRequest(w, err.Error(), traceID)
	default:
		ReportNewInternalError(w, err.Error(), traceID)
	}
}

// ContentType returns the ContentType to be used when returning this problem
func (p *ProblemDetailsImpl) ContentType() string {
	return ProblemReportContentType
}

// MarshalJSON is called when a ProblemDetailsImpl instance should be serialized to JSON
func (p *ProblemDetailsImpl) MarshalJSON() ([]byte, error) {
	var traceID *string

	if p.traceID != "" {
		traceID = &p.traceID
	}

	return json.Marshal(struct {
		Type    string  `json:"type"`
		Title   string  `json:"title"`
		Detail  string  `json:"detail"`
		TraceID *string `json:"traceID,omitempty"`
	}{
		Type:    p.typ,
		Title:   p.title,
		Detail:  p.detail,
		TraceID: traceID,
	})
}

// ResponseCode returns the HTTP response code to be used when returning a specific problem
func (p *ProblemDetailsImpl) ResponseCode() int {
	if p.code != 0 {
		return p.code
	}

	return http.StatusBadRequest
}

// WriteResponse writes the contents of this instance to a http.ResponseWriter
func (p *ProblemDetailsImpl) WriteResponse(w http.ResponseWriter) {
	w.Header().Add("Content-Type", p.ContentType())
	w.Header().Add("Content-Language", "en")
	w.WriteHeader(p.ResponseCode())

	pdbytes, err := json.MarshalIndent(p, "", "  ")
	if err == nil {
		w.Write(pdbytes)
	}
}
