package license

import (
	"encoding/json"
	"fmt"
)

// Status identifies which entitlement state is current
type Status int

const (
	StatusTrial Status = iota
	StatusTrialExpired
	StatusLicensed
)

// String returns the wire name of the status
func (s Status) String() string {
	switch s {
	case StatusTrial:
		return "trial"
	case StatusTrialExpired:
		return "trial_expired"
	case StatusLicensed:
		return "licensed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// EntitlementState is one of Trial(daysRemaining), TrialExpired or Licensed.
// The zero value is Trial(0). Values are comparable with ==.
type EntitlementState struct {
	status        Status
	daysRemaining int
}

// Trial returns the active trial state. Negative days are clamped to zero.
func Trial(daysRemaining int) EntitlementState {
	if daysRemaining < 0 {
		daysRemaining = 0
	}
	return EntitlementState{status: StatusTrial, daysRemaining: daysRemaining}
}

// TrialExpired returns the expired trial state
func TrialExpired() EntitlementState {
	return EntitlementState{status: StatusTrialExpired}
}

// Licensed returns the licensed state
func Licensed() EntitlementState {
	return EntitlementState{status: StatusLicensed}
}

// Status reports which state this is
func (s EntitlementState) Status() Status {
	return s.status
}

// DaysRemaining is the trial countdown; zero outside the trial state
func (s EntitlementState) DaysRemaining() int {
	return s.daysRemaining
}

// CanUseApp is true for a running trial and for a licensed install
func (s EntitlementState) CanUseApp() bool {
	return s.status == StatusTrial || s.status == StatusLicensed
}

func (s EntitlementState) String() string {
	if s.status == StatusTrial {
		return fmt.Sprintf("trial(%d)", s.daysRemaining)
	}
	return s.status.String()
}

type stateJSON struct {
	Status        string `json:"status"`
	DaysRemaining *int   `json:"days_remaining,omitempty"`
	CanUseApp     bool   `json:"can_use_app"`
}

// MarshalJSON encodes the state as {"status", "days_remaining", "can_use_app"}
func (s EntitlementState) MarshalJSON() ([]byte, error) {
	out := stateJSON{Status: s.status.String(), CanUseApp: s.CanUseApp()}
	if s.status == StatusTrial {
		days := s.daysRemaining
		out.DaysRemaining = &days
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the form produced by MarshalJSON
func (s *EntitlementState) UnmarshalJSON(data []byte) error {
	var in stateJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch in.Status {
	case "trial":
		days := 0
		if in.DaysRemaining != nil {
			days = *in.DaysRemaining
		}
		*s = Trial(days)
	case "trial_expired":
		*s = TrialExpired()
	case "licensed":
		*s = Licensed()
	default:
		return fmt.Errorf("unknown entitlement status %q", in.Status)
	}
	return nil
}
