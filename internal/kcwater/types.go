package kcwater

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AccountContext identifies the service account a session is bound to.
type AccountContext struct {
	AccountNumber string
	ServiceID     string
	Port          int
}

// session is the cached authenticated context. It is owned by the Client
// and replaced as a whole on renewal, never mutated in place.
type session struct {
	CustomerID  string
	AccessToken string
	TokenExpiry time.Time
	Context     AccountContext
}

// Reading is a single hourly water meter observation. The timestamp is
// localized to the client's timezone and shifted back one hour from the
// raw read time, which the source reports at the end of the consumption hour.
type Reading struct {
	ReadTime       time.Time
	UOM            string
	MeterNumber    string
	RawConsumption float64
	Port           string
}

// tokenResponse is the token endpoint response body
type tokenResponse struct {
	User struct {
		CustomerID string `json:"customerId"`
	} `json:"user"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// customerInfoResponse is the customer-info endpoint response body
type customerInfoResponse struct {
	AccountContext struct {
		AccountNumber string `json:"accountNumber"`
	} `json:"accountContext"`
	AccountSummaryType struct {
		Services []struct {
			ServiceID string `json:"serviceId"`
		} `json:"services"`
	} `json:"accountSummaryType"`
}

// customerInfoRequest is the customer-info endpoint request body
type customerInfoRequest struct {
	CustomerID string `json:"customerId"`
}

// usageRequest is the hourly-usage endpoint request body
type usageRequest struct {
	CustomerID     string              `json:"customerId"`
	AccountContext usageRequestAccount `json:"accountContext"`
	Day            string              `json:"day"`
	Port           string              `json:"port"`
}

type usageRequestAccount struct {
	AccountNumber string `json:"accountNumber"`
	ServiceID     string `json:"serviceId"`
}

// usageResponse is the hourly-usage endpoint response body
type usageResponse struct {
	History []historyItem `json:"history"`
}

type historyItem struct {
	ReadDate       string    `json:"readDate"`
	ReadDateTime   string    `json:"readDateTime"`
	UOM            string    `json:"uom"`
	MeterNumber    string    `json:"meterNumber"`
	RawConsumption flexFloat `json:"rawConsumption"`
	Port           string    `json:"port"`
}

// flexFloat parses a JSON value that the API serves either as a number
// or as a quoted numeric string.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid consumption value %q: %w", s, err)
	}
	*f = flexFloat(v)
	return nil
}
