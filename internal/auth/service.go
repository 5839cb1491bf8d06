package auth

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

	"dreamteam/internal/ledger"
)

var (
	ErrInvalidSignup   = errors.New("invalid signup")
	ErrEmailTaken      = errors.New("email already used")
	ErrUsernameTaken   = errors.New("username already used")
	ErrUnknownUser     = errors.New("email/username does not exist")
	ErrWrongPassword   = errors.New("incorrect password, try again")
	ErrInvalidToken    = errors.New("invalid token")
	ErrMissingPassword = errors.New("password is required")
)

const maxPasswordBytes = 72

var emailRE = regexp.MustCompile(`^\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Z|a-z]{2,}\b$`)

func IsEmail(s string) bool {
	return emailRE.MatchString(s)
}

// UsernameAllowed accepts letters, digits, underscores and dots.
func UsernameAllowed(s string) bool {
	s = strings.NewReplacer("_", "", ".", "").Replace(s)
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

type SignupInput struct {
	Email           string `json:"email" validate:"required,emailaddr"`
	Username        string `json:"username" validate:"required,min=3,username"`
	Password        string `json:"password" validate:"required,eqfield=PasswordConfirm,min=8,bcryptlen"`
	PasswordConfirm string `json:"password_confirm"`
}

type LoginInput struct {
	Cred     string `json:"cred" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type Session struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresIn   int         `json:"expires_in"`
	User        ledger.User `json:"user"`
}

// NewValidator returns a validator with the signup tags registered.
func NewValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("emailaddr", func(fl validator.FieldLevel) bool {
		return IsEmail(fl.Field().String())
	})
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return UsernameAllowed(fl.Field().String())
	})
	// bcrypt hashes at most 72 bytes; max= would count runes.
	_ = v.RegisterValidation("bcryptlen", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= maxPasswordBytes
	})
	return v
}

type Service struct {
	users    ledger.Users
	tokens   *Tokens
	validate *validator.Validate
	log      *slog.Logger
	hashCost int
}

func NewService(users ledger.Users, tokens *Tokens, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		users:    users,
		tokens:   tokens,
		validate: NewValidator(),
		log:      logger,
		hashCost: bcrypt.DefaultCost,
	}
}

func (s *Service) Signup(ctx context.Context, in SignupInput) (Session, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.Username = strings.TrimSpace(in.Username)
	if err := s.validate.Struct(&in); err != nil {
		return Session{}, signupError(err)
	}
	if _, err := s.users.UserByEmail(ctx, in.Email); err == nil {
		return Session{}, ErrEmailTaken
	} else if !errors.Is(err, ledger.ErrNotFound) {
		return Session{}, err
	}
	if _, err := s.users.UserByUsername(ctx, in.Username); err == nil {
		return Session{}, ErrUsernameTaken
	} else if !errors.Is(err, ledger.ErrNotFound) {
		return Session{}, err
	}

	hash, err := HashPassword(in.Password, s.hashCost)
	if err != nil {
		return Session{}, err
	}
	u, err := s.users.CreateUser(ctx, ledger.User{Email: in.Email, Username: in.Username, PasswordHash: hash})
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicate) {
			// Lost a race with another signup; report the field that collided.
			if _, eerr := s.users.UserByEmail(ctx, in.Email); eerr == nil {
				return Session{}, ErrEmailTaken
			}
			return Session{}, ErrUsernameTaken
		}
		return Session{}, err
	}
	s.log.Info("user signed up", "user_id", u.ID, "username", u.Username)
	return s.session(u)
}

// Login accepts either the email address or the username as cred.
func (s *Service) Login(ctx context.Context, in LoginInput) (Session, error) {
	cred := strings.TrimSpace(in.Cred)
	if cred == "" {
		return Session{}, ErrUnknownUser
	}
	if in.Password == "" {
		return Session{}, ErrMissingPassword
	}
	var (
		u   ledger.User
		err error
	)
	if IsEmail(cred) {
		u, err = s.users.UserByEmail(ctx, cred)
	} else {
		u, err = s.users.UserByUsername(ctx, cred)
	}
	if errors.Is(err, ledger.ErrNotFound) {
		return Session{}, ErrUnknownUser
	}
	if err != nil {
		return Session{}, err
	}
	if err := CheckPassword(u.PasswordHash, in.Password); err != nil {
		return Session{}, err
	}
	return s.session(u)
}

// Authenticate resolves a bearer token to its user.
func (s *Service) Authenticate(ctx context.Context, token string) (ledger.User, error) {
	userID, err := s.tokens.Parse(token)
	if err != nil {
		return ledger.User{}, err
	}
	u, err := s.users.User(ctx, userID)
	if errors.Is(err, ledger.ErrNotFound) {
		return ledger.User{}, ErrInvalidToken
	}
	return u, err
}

func (s *Service) session(u ledger.User) (Session, error) {
	token, err := s.tokens.Issue(u.ID)
	if err != nil {
		return Session{}, err
	}
	return Session{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int(s.tokens.TTL().Seconds()),
		User:        u,
	}, nil
}

func signupError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidSignup, err)
	}
	fe := verrs[0]
	var msg string
	switch fe.Field() {
	case "Email":
		msg = "improper email format"
	case "Username":
		if fe.Tag() == "username" {
			msg = "only alphabets, numbers, underscore (_) and dot (.) is allowed"
		} else {
			msg = "username must be at least 3 characters"
		}
	case "Password":
		switch fe.Tag() {
		case "eqfield":
			msg = "passwords don't match"
		case "bcryptlen":
			msg = fmt.Sprintf("password must be at most %d bytes", maxPasswordBytes)
		default:
			msg = "password must be at least 8 characters"
		}
	default:
		msg = fmt.Sprintf("%s is invalid", strings.ToLower(fe.Field()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidSignup, msg)
}
