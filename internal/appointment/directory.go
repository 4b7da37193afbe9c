package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedDirectory keeps recently resolved patients and doctors for ttl so a
// walk-in burst for one doctor does not hit the directory tables every time.
// Misses are not cached.
type CachedDirectory struct {
	next     Directory
	patients *expirable.LRU[uuid.UUID, Patient]
	doctors  *expirable.LRU[uuid.UUID, Doctor]
}

func NewCachedDirectory(next Directory, size int, ttl time.Duration) *CachedDirectory {
	if size <= 0 {
		size = 1024
	}
	return &CachedDirectory{
		next:     next,
		patients: expirable.NewLRU[uuid.UUID, Patient](size, nil, ttl),
		doctors:  expirable.NewLRU[uuid.UUID, Doctor](size, nil, ttl),
	}
}

func (d *CachedDirectory) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	if p, ok := d.patients.Get(id); ok {
		return &p, nil
	}
	p, err := d.next.GetPatientByID(ctx, id)
	if err != nil {
		return nil, err
	}
	d.patients.Add(id, *p)
	return p, nil
}

func (d *CachedDirectory) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	if doc, ok := d.doctors.Get(id); ok {
		return &doc, nil
	}
	doc, err := d.next.GetDoctorByID(ctx, id)
	if err != nil {
		return nil, err
	}
	d.doctors.Add(id, *doc)
	return doc, nil
}
