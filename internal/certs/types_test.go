package certs

import "testing"

func TestEnrollmentPreconditionSatisfied(t *testing.T) {
	cases := []struct {
		name string
		pre  EnrollmentPrecondition
		want bool
	}{
		{"validated and active", EnrollmentPrecondition{AllDomainsValidated: true, EnrollmentStatus: "active"}, true},
		{"validated and modified", EnrollmentPrecondition{AllDomainsValidated: true, EnrollmentStatus: "modified"}, true},
		{"not validated", EnrollmentPrecondition{AllDomainsValidated: false, EnrollmentStatus: "active"}, false},
		{"validated but pending", EnrollmentPrecondition{AllDomainsValidated: true, EnrollmentStatus: "pending"}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.pre.satisfied(); got != c.want {
				t.Errorf("satisfied() = %v, want %v", got, c.want)
			}
		})
	}
}
