package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/agrilink/api/internal/services"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

var (
	errEmptyBody    = errors.New("request body is empty")
	errBodyTooLarge = errors.New("request body exceeds allowed size")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func decodeJSONBody(r *http.Request, limit int64, dst any) error {
	body, err := readLimitedBody(r, limit)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func pointerTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func parsePageSize(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultPageSize, nil
	}
	size, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("page_size must be an integer")
	}
	switch {
	case size <= 0:
		return defaultPageSize, nil
	case size > maxPageSize:
		return maxPageSize, nil
	default:
		return size, nil
	}
}

func parsePriceParam(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 0 {
		return 0, errors.New("must be a non-negative integer amount")
	}
	return value, nil
}

func parseBoolParam(raw string) (*bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, errors.New("must be true or false")
	}
	return &value, nil
}

// addressPayload is the JSON shape shared by profile and shipping addresses.
type addressPayload struct {
	Street   string `json:"street,omitempty"`
	City     string `json:"city,omitempty"`
	District string `json:"district,omitempty"`
	Country  string `json:"country,omitempty"`
}

func buildAddressPayload(addr services.Address) addressPayload {
	return addressPayload{
		Street:   addr.Street,
		City:     addr.City,
		District: addr.District,
		Country:  addr.Country,
	}
}

func (p addressPayload) toDomain() services.Address {
	return services.Address{
		Street:   strings.TrimSpace(p.Street),
		City:     strings.TrimSpace(p.City),
		District: strings.TrimSpace(p.District),
		Country:  strings.TrimSpace(p.Country),
	}
}

// validationDetails turns a service validation error into response metadata.
func validationDetails(err error) map[string]any {
	var validation *services.ValidationError
	if !errors.As(err, &validation) || len(validation.Fields) == 0 {
		return nil
	}
	fields := make([]map[string]string, 0, len(validation.Fields))
	for _, field := range validation.Fields {
		fields = append(fields, map[string]string{
			"field":  field.Field,
			"reason": field.Reason,
		})
	}
	return map[string]any{"fields": fields}
}
