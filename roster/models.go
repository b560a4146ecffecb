package roster

import "time"

// Mother is a case record on the care roster. The registered_by and
// assignment links point at profile rows and stay empty until the relevant
// workers exist.
type Mother struct {
	ID               string
	FullName         string
	Age              int
	Phone            *string
	Area             string
	ExpectedDelivery *time.Time
	RegisteredBy     *string
	AssignedDoctorID *string
	AssignedAshaID   *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type CreateParams struct {
	FullName         string
	Age              int
	Phone            string
	Area             string
	ExpectedDelivery *time.Time
	RegisteredBy     string
}

type AssignParams struct {
	DoctorID *string
	AshaID   *string
}
