package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"guild-server/internal/apperr"
	"guild-server/internal/models"
	"guild-server/internal/permission"
	"guild-server/internal/store"
)

// ErrInvalidCredentials is returned by Authenticate for an unknown user or a
// wrong password.
var ErrInvalidCredentials = errors.New("invalid username or password")

const maxPageSize = 100

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.]+$`)

// Registration is the input to CreateUser.
type Registration struct {
	Username string `json:"username" validate:"required,min=3,max=20,username"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=64,password"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		return strongPassword(fl.Field().String())
	})
	return v
}

// strongPassword wants at least one upper, lower, digit and special rune.
func strongPassword(p string) bool {
	var upper, lower, digit, special bool
	for _, r := range p {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}
	return upper && lower && digit && special
}

func validationMessage(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperr.Invalid("%v", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s characters", field, fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", field, fe.Param()))
		case "email":
			msgs = append(msgs, "email is not a valid address")
		case "username":
			msgs = append(msgs, "username may only contain letters, digits, '_' and '.'")
		case "password":
			msgs = append(msgs, "password needs an upper case letter, a lower case letter, a digit and a special character")
		default:
			msgs = append(msgs, fe.Error())
		}
	}
	return apperr.Invalid("%s", strings.Join(msgs, "; "))
}

// Service manages accounts.
type Service struct {
	store    *store.Store
	perms    *permission.Engine
	validate *validator.Validate
	cost     int
}

func NewService(s *store.Store, perms *permission.Engine) *Service {
	return &Service{store: s, perms: perms, validate: newValidator(), cost: bcrypt.DefaultCost}
}

// CreateUser validates reg, hashes the password and stores the account.
func (s *Service) CreateUser(ctx context.Context, reg Registration) (*models.User, error) {
	reg.Username = strings.TrimSpace(reg.Username)
	reg.Email = strings.ToLower(strings.TrimSpace(reg.Email))
	if err := s.validate.Struct(reg); err != nil {
		return nil, validationMessage(err)
	}

	if taken, err := s.store.Users.Exists(ctx, store.Where("username = ?", reg.Username)); err != nil {
		return nil, err
	} else if taken {
		return nil, apperr.Conflict("username is already taken")
	}
	if taken, err := s.store.Users.Exists(ctx, store.Where("email = ?", reg.Email)); err != nil {
		return nil, err
	} else if taken {
		return nil, apperr.Conflict("email is already registered")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &models.User{Username: reg.Username, Email: reg.Email, PasswordHash: string(hash)}
	if err := s.store.Users.Create(ctx, u); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	slog.Info("user created", "user_id", u.ID, "username", u.Username)
	return u, nil
}

func (s *Service) GetUser(ctx context.Context, id int64) (*models.User, error) {
	u, err := s.store.Users.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("user %d: %w", id, err)
	}
	return u, nil
}

func (s *Service) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	u, err := s.store.Users.First(ctx, store.Where("username = ?", strings.TrimSpace(username)))
	if err != nil {
		return nil, fmt.Errorf("user %q: %w", username, err)
	}
	return u, nil
}

// Authenticate checks username and password and returns the account.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	u, err := s.GetUserByUsername(ctx, username)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

func pageScope(page, size int) store.Scope {
	if size <= 0 || size > maxPageSize {
		size = maxPageSize
	}
	if page < 1 {
		page = 1
	}
	return store.Page((page-1)*size, size)
}

// ListUsers returns one page of users ordered by id. Pages start at 1.
func (s *Service) ListUsers(ctx context.Context, page, size int) ([]models.User, error) {
	return s.store.Users.Find(ctx, store.OrderBy("id"), pageScope(page, size))
}

func (s *Service) CountUsers(ctx context.Context) (int64, error) {
	return s.store.Users.Count(ctx)
}

// ListServers pages through every server on the site. Site administrators only.
func (s *Service) ListServers(ctx context.Context, actorID int64, page, size int) ([]models.Server, error) {
	if err := s.perms.RequireSiteAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	return s.store.Servers.Find(ctx, store.OrderBy("id"), pageScope(page, size))
}

// SetSiteAdmin grants or revokes site administration. Administrators cannot
// revoke themselves.
func (s *Service) SetSiteAdmin(ctx context.Context, actorID, userID int64, admin bool) error {
	if err := s.perms.RequireSiteAdmin(ctx, actorID); err != nil {
		return err
	}
	if _, err := s.GetUser(ctx, userID); err != nil {
		return err
	}
	if !admin {
		if actorID == userID {
			return apperr.Invalid("you cannot revoke your own administrator rights")
		}
		_, err := s.store.SiteAdmins.DeleteWhere(ctx, store.Where("user_id = ?", userID))
		return err
	}
	if ok, err := s.perms.IsSiteAdmin(ctx, userID); err != nil || ok {
		return err
	}
	slog.Info("site admin granted", "user_id", userID, "actor_id", actorID)
	return s.store.SiteAdmins.Create(ctx, &models.SiteAdmin{UserID: userID})
}
