package patient

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hbys/hbys/internal/tenancy"
)

type Service struct {
	repo   Repository
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger, now: time.Now}
}

var bloodTypes = map[string]bool{
	"A+": true, "A-": true, "B+": true, "B-": true,
	"AB+": true, "AB-": true, "0+": true, "0-": true,
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func validateContact(email, bloodType *string) error {
	if email != nil {
		if _, err := mail.ParseAddress(*email); err != nil {
			return fmt.Errorf("%w: email %q is not valid", ErrInvalid, *email)
		}
	}
	if bloodType != nil && !bloodTypes[strings.ToUpper(*bloodType)] {
		return fmt.Errorf("%w: unknown blood type %q", ErrInvalid, *bloodType)
	}
	return nil
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*Patient, error) {
	tckn := strings.TrimSpace(req.TCKN)
	if tckn == "" {
		return nil, fmt.Errorf("%w: tckn is required", ErrInvalid)
	}
	if err := ValidateTCKN(tckn); err != nil {
		return nil, err
	}
	given, family := strings.TrimSpace(req.GivenName), strings.TrimSpace(req.FamilyName)
	if given == "" || family == "" {
		return nil, fmt.Errorf("%w: given_name and family_name are required", ErrInvalid)
	}
	if req.Gender != nil && !req.Gender.Valid() {
		return nil, fmt.Errorf("%w: unknown gender %q", ErrInvalid, *req.Gender)
	}
	if req.BirthDate != nil && req.BirthDate.After(s.now()) {
		return nil, fmt.Errorf("%w: birth_date is in the future", ErrInvalid)
	}
	email, blood := trimmed(req.Email), trimmed(req.BloodType)
	if err := validateContact(email, blood); err != nil {
		return nil, err
	}
	if blood != nil {
		up := strings.ToUpper(*blood)
		blood = &up
	}

	p := &Patient{
		TCKN:       tckn,
		GivenName:  given,
		FamilyName: family,
		BirthDate:  req.BirthDate,
		Gender:     req.Gender,
		Phone:      trimmed(req.Phone),
		Email:      email,
		Address:    trimmed(req.Address),
		City:       trimmed(req.City),
		BloodType:  blood,
		Active:     true,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	code, _ := tenancy.FromContext(ctx).TenantCode()
	s.logger.Info().Str("tenant_code", code).Str("patient_id", p.ID.String()).Msg("patient created")
	return p, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByTCKN(ctx context.Context, tckn string) (*Patient, error) {
	return s.repo.GetByTCKN(ctx, strings.TrimSpace(tckn))
}

func (s *Service) Search(ctx context.Context, f SearchFilter, limit, offset int) ([]*Patient, int, error) {
	f.TCKN = strings.TrimSpace(f.TCKN)
	f.Name = strings.TrimSpace(f.Name)
	return s.repo.Search(ctx, f, limit, offset)
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (*Patient, error) {
	return s.mutate(ctx, id, func(p *Patient) error {
		if req.GivenName != nil {
			if p.GivenName = strings.TrimSpace(*req.GivenName); p.GivenName == "" {
				return fmt.Errorf("%w: given_name must not be empty", ErrInvalid)
			}
		}
		if req.FamilyName != nil {
			if p.FamilyName = strings.TrimSpace(*req.FamilyName); p.FamilyName == "" {
				return fmt.Errorf("%w: family_name must not be empty", ErrInvalid)
			}
		}
		if req.Phone != nil {
			p.Phone = trimmed(req.Phone)
		}
		if req.Email != nil {
			p.Email = trimmed(req.Email)
		}
		if req.Address != nil {
			p.Address = trimmed(req.Address)
		}
		if req.City != nil {
			p.City = trimmed(req.City)
		}
		if req.BloodType != nil {
			p.BloodType = trimmed(req.BloodType)
			if p.BloodType != nil {
				up := strings.ToUpper(*p.BloodType)
				p.BloodType = &up
			}
		}
		return validateContact(p.Email, p.BloodType)
	})
}

// Deactivate hides the patient from active listings. Patients are never deleted.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.mutate(ctx, id, func(p *Patient) error {
		p.Active = false
		return nil
	})
}

func (s *Service) Activate(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.mutate(ctx, id, func(p *Patient) error {
		p.Active = true
		return nil
	})
}

func (s *Service) mutate(ctx context.Context, id uuid.UUID, fn func(p *Patient) error) (*Patient, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(p); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Count returns the number of active patients of the bound tenant. It
// satisfies license.Counter for the usage report.
func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.CountActive(ctx)
}
