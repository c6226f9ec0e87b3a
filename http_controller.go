package identity

import (
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"

	"github.com/catconnect/go-identity/middleware/jwtware"
)

// HTTPAuthenticator is the surface the controller needs from the
// cookie transport.
type HTTPAuthenticator interface {
	Login(c *fiber.Ctx, payload LoginPayload) (string, error)
	Logout(c *fiber.Ctx)
	Impersonate(c *fiber.Ctx, identifier string) error
	ProtectedRoute(validator jwtware.TokenValidator, errorHandler fiber.ErrorHandler) fiber.Handler
	OptionalRoute(validator jwtware.TokenValidator) fiber.Handler
}

// GetRouterSession pulls the SessionObject the gate middleware stored
// for the request, or an error when the request is anonymous.
func GetRouterSession(c *fiber.Ctx, key string) (*SessionObject, error) {
	claims, ok := GetFiberClaims(c, key)
	if !ok {
		return nil, ErrUnableToFindSession
	}

	session, err := sessionFromAuthClaims(claims)
	if err != nil {
		return nil, ErrUnableToDecodeSession
	}

	return session, nil
}

// RegisterAuthRoutes mounts the JSON auth API on the app.
func RegisterAuthRoutes(app fiber.Router, opts ...AuthControllerOption) *AuthController {
	controller := NewAuthController(opts...)

	app.Post("/auth/login", controller.LoginPost)
	app.Post("/auth/logout", controller.LogoutPost)
	app.Get("/auth/check", controller.sessionGate(), controller.CheckGet)
	app.Post("/auth/find-username", controller.FindUsernamePost)

	app.Post("/signup/send-code", controller.SignupSendCode)
	app.Post("/signup/verify-code", controller.SignupVerifyCode)
	app.Post("/signup/complete", controller.SignupComplete)
	app.Post("/signup/send-link", controller.SignupSendLink)
	app.Get("/verify-email", controller.VerifyEmailGet)

	app.Post("/password/send-code", controller.PasswordSendCode)
	app.Post("/password/verify-code", controller.PasswordVerifyCode)
	app.Post("/password/reset", controller.PasswordReset)

	app.Post("/sms/signup/send-code", controller.SMSSignupSendCode)
	app.Post("/sms/signup/verify-code", controller.SMSSignupVerifyCode)

	return controller
}

type AuthController struct {
	Debug      bool
	Logger     Logger
	Repo       RepositoryManager
	Verifier   *Verifier
	Auther     HTTPAuthenticator
	Validator  jwtware.TokenValidator
	ContextKey string
}

type AuthControllerOption func(*AuthController) *AuthController

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger:     defLogger{},
		ContextKey: "user",
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Repo == nil {
		panic("Missing RepositoryManager in auth controller...")
	}

	if c.Auther == nil {
		panic("Missing HTTPAuthenticator in auth controller...")
	}

	if c.Verifier == nil {
		panic("Missing Verifier in auth controller...")
	}

	if c.Validator == nil {
		panic("Missing token validator in auth controller...")
	}

	return c
}

func WithControllerDebug(debug bool) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Debug = debug
		return c
	}
}

func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func WithControllerRepo(repo RepositoryManager) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Repo = repo
		return c
	}
}

func WithControllerVerifier(verifier *Verifier) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Verifier = verifier
		return c
	}
}

func WithControllerAuther(auther HTTPAuthenticator) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Auther = auther
		return c
	}
}

func WithControllerTokenValidator(validator jwtware.TokenValidator) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Validator = validator
		return c
	}
}

func WithControllerContextKey(key string) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		if key != "" {
			c.ContextKey = key
		}
		return c
	}
}

// sessionGate degrades to anonymous so /auth/check can answer for
// logged-out clients too.
func (a *AuthController) sessionGate() fiber.Handler {
	return a.Auther.OptionalRoute(a.Validator)
}

// LoginRequest payload
type LoginRequest struct {
	Identifier string `form:"identifier" json:"identifier"`
	Password   string `form:"password" json:"password"`
	RememberMe bool   `form:"remember_me" json:"remember_me"`
}

// GetIdentifier returns the identifier
func (r LoginRequest) GetIdentifier() string {
	return r.Identifier
}

// GetPassword will return the password
func (r LoginRequest) GetPassword() string {
	return r.Password
}

// GetExtendedSession selects the long lived token
func (r LoginRequest) GetExtendedSession() bool {
	return r.RememberMe
}

// Validate will validate the payload
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Identifier,
			validation.Required,
			validation.Length(3, 100),
		),
		validation.Field(
			&r.Password,
			validation.Required,
			validation.Length(1, 100),
		),
	)
}

func (a *AuthController) LoginPost(ctx *fiber.Ctx) error {
	payload := new(LoginRequest)

	if err := ctx.BodyParser(payload); err != nil {
		a.Logger.Error("login parse payload: %s", err)
		return renderParseError(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		a.Logger.Error("login validate payload: %s", err)
		return renderValidationError(ctx, err)
	}

	token, err := a.Auther.Login(ctx, payload)
	if err != nil {
		return renderError(ctx, err)
	}

	if a.Debug {
		a.Logger.Debug("login ok: %s", print.MaybePrettyJSON(map[string]any{
			"identifier": payload.Identifier,
			"extended":   payload.RememberMe,
		}))
	}

	return ctx.JSON(fiber.Map{
		"success": true,
		"token":   token,
	})
}

func (a *AuthController) LogoutPost(ctx *fiber.Ctx) error {
	a.Auther.Logout(ctx)
	return ctx.JSON(fiber.Map{"success": true})
}

// CheckGet echoes the session derived from the token. Anonymous
// requests get a 200 with authenticated false rather than a 401.
func (a *AuthController) CheckGet(ctx *fiber.Ctx) error {
	session, err := GetRouterSession(ctx, a.ContextKey)
	if err != nil {
		return ctx.JSON(fiber.Map{"authenticated": false})
	}

	return ctx.JSON(fiber.Map{
		"authenticated": true,
		"session":       session,
	})
}

// RecipientRequest payload for lookups keyed by a contact point.
type RecipientRequest struct {
	Recipient string `form:"recipient" json:"recipient"`
}

// Validate will validate the payload
func (r RecipientRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Recipient,
			validation.Required,
			validation.Length(3, 100),
		),
	)
}

func (a *AuthController) FindUsernamePost(ctx *fiber.Ctx) error {
	payload := new(RecipientRequest)

	if err := ctx.BodyParser(payload); err != nil {
		a.Logger.Error("find username parse payload: %s", err)
		return renderParseError(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		a.Logger.Error("find username validate payload: %s", err)
		return renderValidationError(ctx, err)
	}

	var username string
	handler := NewFindUsernameHandler(a.Repo)
	err := handler.Execute(ctx.UserContext(), FindUsernameMessage{
		Recipient: payload.Recipient,
		OnResponse: func(resp *FindUsernameResponse) {
			username = resp.MaskedUsername
		},
	})
	if err != nil {
		return renderError(ctx, err)
	}

	return ctx.JSON(fiber.Map{"username": username})
}

// EmailRequest payload
type EmailRequest struct {
	Email string `form:"email" json:"email"`
}

// Validate will validate the payload
func (r EmailRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Email,
			validation.Required,
			is.Email,
		),
	)
}

func (a *AuthController) SignupSendCode(ctx *fiber.Ctx) error {
	payload := new(EmailRequest)

	if err := ctx.BodyParser(payload); err != nil {
		a.Logger.Error("signup send code parse payload: %s", err)
		return renderParseError(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		a.Logger.Error("signup send code validate payload: %s", err)
		return renderValidationError(ctx, err)
	}

	handler := NewSendSignupCodeHandler(a.Repo, a.Verifier)
	if err := handler.Execute(ctx.UserContext(), SendSignupCodeMessage{Email: payload.Email}); err != nil {
		return renderError(ctx, err)
	}

	return ctx.JSON(fiber.Map{"success": true})
}

// EmailCodeRequest payload
type EmailCodeRequest struct {
	Email string `form:"email" json:"email"`
	Code  string `form:"code" json:"code"`
}

// Validate will validate the payload
func (r EmailCodeRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Email,
			validation.Required,
			is.Email,
		),
		validation.Field(
			&r.Code,
			validation.Required,
			validation.Length(6, 6),
			is.Digit,
		),
	)
}

func (a *AuthController) SignupVerifyCode(ctx *fiber.Ctx) error {
	payload := new(EmailCodeRequest)

	if err := ctx.BodyParser(payload); err != nil {
		a.Logger.Error("signup verify code parse payload: %s", err)
		return renderParseError(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		a.Logger.Error("signup verify code validate payload: %s", err)
		return renderValidationError(ctx, err)
	}

	handler := NewConfirmSignupCodeHandler(a.Repo, a.Verifier)
	if err := handler.Execute(ctx.UserContext(), ConfirmSignupCodeMessage{
		Email: payload.Email,
		Code:  payload.Code,
	}); err != nil {
		return renderError(ctx, err)
	}

	return ctx.JSON(fiber.Map{"success": true})
}

// SignupCompleteRequest payload
type SignupCompleteRequest struct {
	Username string `form:"username" json:"username"`
	Email    string `form:"email" json:"email"`
	Phone    string `form:"phone" json:"phone"`
	Password string `form:"password" json:"password"`
}

// Validate will validate the payload
func (r SignupCompleteRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Username,
			validation.Required,
			validation.Length(3, 30),
		),
		validation.Field(
			&r.Email,
			validation.Required,
			is.Email,
		),
		validation.Field(
			&r.Phone,
			validation.Required,
			validation.Length(8, 20),
		),
		validation.Field(
			&r.Password,
			validation.Required,
			validation.Length(10, 100),
		),
	)
}

func (a *AuthController) SignupComplete(ctx *fiber.Ctx) error {
	payload := new(SignupCompleteRequest)

	if err := ctx.BodyParser(payload); err != nil {
		a.Logger.Error("signup complete parse payload: %s", err)
		return renderParseError(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		a.Logger.Error("signup complete validate payload: %s", err)
		return renderValidationError(ctx, err)
	}

	var created *User
	handler := NewCompleteSignupHandler(a.Repo, a.Verifier)
	err := handler.Execute(ctx.UserContext(), CompleteSignupMessage{
		Username: payload.Username,
		Email:    payload.Email,
		Phone:    payload.Phone,
		Password: payload.Password,
		OnResponse: func(resp *CompleteSignupResponse) {
			created = resp.User
		},
	})
	if err != nil {
		return renderError(ctx, err)
	}

	if a.Debug {
		a.Logger.Debug("signup complete: %s", print.MaybePrettyJSON(created))
	}

	return ctx.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"user":    created,
	})
}

// SignupLinkRequest payload
type SignupLinkRequest struct {
	Username string `form:"username" json:"username"`
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// Validate will validate the payload
func (r SignupLinkRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Username,
			validation.Required,
			validation.Length(3, 30),
		),
		validation.Field(
			&r.Email,
			validation.Required,
			is.Email,
		),
		validation.Field(
			&r.Password,
			validation.Required,
			validation.Length(10, 100),
		),
	)
}

func (a *AuthController) SignupSendLink(ctx *fiber.Ctx) error {
	payload := new(SignupLinkRequest)

	if err := ctx.BodyParser(payload); err != nil {
		a.Logger.Error("signup send link parse payload: %s", err)
		return renderParseError(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		a.Logger.Error("signup send link validate payload: %s", err)
		return renderValidationError(ctx, err)
	}

	handler := NewSendSignupLinkHandler(a.Repo, a.Verifier)
	if err := handler.Execute(ctx.UserContext(), SendSignupLinkMessage{
		Username: payload.Username,
		Email:    payload.Email,
		Password: payload.Password,
	}); err != nil {
		return renderError(ctx, err)
	}

	return ctx.JSON(fiber.Map{"success": true})
}

func (a *AuthController) VerifyEmailGet(ctx *fiber.Ctx) error {
	secret := ctx.Query("token")
	if secret == "" {
		return renderError(ctx, goerrors.New("missing verification token", goerrors.CategoryBadInput).
			WithTextCode("MISSING_TOKEN").
			WithCode(goerrors.CodeBadRequest))
	}

	var created *User
	handler := NewConfirmSignupLinkHandler(a.Repo, a.Verifier)
	err := handler.Execute(ctx.UserContext(), ConfirmSignupLinkMessage{
		Secret: secret,
		OnResponse: func(resp *ConfirmSignupLinkResponse) {
			created = resp.User
		},
	})
	if err != nil {
		return renderError(ctx, err)
	}

	return ctx.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"user":    created,
	})
}

// PasswordCodeRequest payload
type PasswordCodeRequest struct {
	Recipient string `form:"recipient" json:"recipient"`
	Purpose   string `form:"purpose" json:"purpose"`
}

// Validate will validate the payload
func (r PasswordCodeRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Recipient,
			validation.Required,
			validation.Length(3, 100),
		),
		validation.Field(
			&r.Purpose,
			validation.In(
				string(PurposePasswordReset),
				string(PurposeSMSPasswordReset),
			),
		),
	)
}

func (a *AuthController) PasswordSendCode(ctx *fiber.Ctx) error {
	payload := new(PasswordCodeRequest)

	if err := ctx.BodyParser(payload); err != nil {
		a.Logger.Error("password send code parse payload: %s", err)
		return renderParseError(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		a.Logger.Error("password send code validate payload: %s", err)
		return renderValidationError(ctx, err)
	}

	handler := NewInitializePasswordResetHandler(a.Repo, a.Verifier)
	if err := handler.Execute(ctx.UserContext(), InitializePasswordResetMessage{
		Recipient: payload.Recipient,
		Purpose:   Purpose(payload.Purpose),
	}); err != nil {
		return renderError(ctx, err)
	}

	return ctx.JSON(fiber.Map{"success": true})
}

// PasswordVerifyRequest payload
type PasswordVerifyRequest struct {
	Recipient string `form:"recipient" json:"recipient"`
	Purpose   string `form:"purpose" json:"purpose"`
	Code      string `form:"code" json:"code"`
}

// Validate will validate the payload
func (r PasswordVerifyRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Recipient,
			validation.Required,
			validation.Length(3, 100),
		),
		validation.Field(
			&r.Purpose,
			validation.In(
				string(PurposePasswordReset),
				string(PurposeSMSPasswordReset),
			),
		),
		validation.Field(
			&r.Code,
			validation.Required,
			validation.Length(6, 6),
			is.Digit,
		),
	)
}

// PasswordVerifyCode checks the code without retiring it, so the reset
// itself can still confirm the same code.
func (a *AuthController) PasswordVerifyCode(ctx *fiber.Ctx) error {
	payload := new(PasswordVerifyRequest)

	if err := ctx.BodyParser(payload); err != nil {
		a.Logger.Error("password verify code parse payload: %s", err)
		return renderParseError(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		a.Logger.Error("password verify code validate payload: %s", err)
		return renderValidationError(ctx, err)
	}

	purpose := Purpose(payload.Purpose)
	if purpose == "" {
		purpose = PurposePasswordReset
	}

	if err := a.Verifier.Check(ctx.UserContext(), payload.Recipient, purpose, payload.Code); err != nil {
		return renderError(ctx, err)
	}

	return ctx.JSON(fiber.Map{"success": true})
}

// PasswordResetRequest payload
type PasswordResetRequest struct {
	Recipient       string `form:"recipient" json:"recipient"`
	Purpose         string `form:"purpose" json:"purpose"`
	Code            string `form:"code" json:"code"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

// Validate will validate the payload
func (r PasswordResetRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Recipient,
			validation.Required,
			validation.Length(3, 100),
		),
		validation.Field(
			&r.Purpose,
			validation.In(
				string(PurposePasswordReset),
				string(PurposeSMSPasswordReset),
			),
		),
		validation.Field(
			&r.Code,
			validation.Required,
			validation.Length(6, 6),
			is.Digit,
		),
		validation.Field(
			&r.Password,
			validation.Required,
			validation.Length(10, 100),
		),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.Length(10, 100),
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

func (a *AuthController) PasswordReset(ctx *fiber.Ctx) error {
	payload := new(PasswordResetRequest)

	if err := ctx.BodyParser(payload); err != nil {
		a.Logger.Error("password reset parse payload: %s", err)
		return renderParseError(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		a.Logger.Error("password reset validate payload: %s", err)
		return renderValidationError(ctx, err)
	}

	handler := NewFinalizePasswordResetHandler(a.Repo, a.Verifier)
	if err := handler.Execute(ctx.UserContext(), FinalizePasswordResetMessage{
		Recipient: payload.Recipient,
		Purpose:   Purpose(payload.Purpose),
		Code:      payload.Code,
		Password:  payload.Password,
	}); err != nil {
		return renderError(ctx, err)
	}

	return ctx.JSON(fiber.Map{"success": true})
}

// PhoneRequest payload
type PhoneRequest struct {
	Phone string `form:"phone" json:"phone"`
}

// Validate will validate the payload
func (r PhoneRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Phone,
			validation.Required,
			validation.Length(8, 20),
		),
	)
}

func (a *AuthController) SMSSignupSendCode(ctx *fiber.Ctx) error {
	payload := new(PhoneRequest)

	if err := ctx.BodyParser(payload); err != nil {
		a.Logger.Error("sms signup send code parse payload: %s", err)
		return renderParseError(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		a.Logger.Error("sms signup send code validate payload: %s", err)
		return renderValidationError(ctx, err)
	}

	handler := NewSendSMSCodeHandler(a.Repo, a.Verifier)
	if err := handler.Execute(ctx.UserContext(), SendSMSCodeMessage{
		Phone:   payload.Phone,
		Purpose: PurposeSMSSignup,
	}); err != nil {
		return renderError(ctx, err)
	}

	return ctx.JSON(fiber.Map{"success": true})
}

// PhoneCodeRequest payload
type PhoneCodeRequest struct {
	Phone string `form:"phone" json:"phone"`
	Code  string `form:"code" json:"code"`
}

// Validate will validate the payload
func (r PhoneCodeRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Phone,
			validation.Required,
			validation.Length(8, 20),
		),
		validation.Field(
			&r.Code,
			validation.Required,
			validation.Length(6, 6),
			is.Digit,
		),
	)
}

func (a *AuthController) SMSSignupVerifyCode(ctx *fiber.Ctx) error {
	payload := new(PhoneCodeRequest)

	if err := ctx.BodyParser(payload); err != nil {
		a.Logger.Error("sms signup verify code parse payload: %s", err)
		return renderParseError(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		a.Logger.Error("sms signup verify code validate payload: %s", err)
		return renderValidationError(ctx, err)
	}

	handler := NewConfirmSMSCodeHandler(a.Repo, a.Verifier)
	if err := handler.Execute(ctx.UserContext(), ConfirmSMSCodeMessage{
		Phone:   payload.Phone,
		Purpose: PurposeSMSSignup,
		Code:    payload.Code,
	}); err != nil {
		return renderError(ctx, err)
	}

	return ctx.JSON(fiber.Map{"success": true})
}

func renderParseError(c *fiber.Ctx, err error) error {
	return renderError(c, goerrors.Wrap(err, goerrors.CategoryBadInput, "Error parsing request body").
		WithTextCode("INVALID_BODY").
		WithCode(goerrors.CodeBadRequest))
}

func renderValidationError(c *fiber.Ctx, err error) error {
	fields := FormatValidationErrorToMap(err)
	return renderError(c, goerrors.New("Error validating payload", goerrors.CategoryValidation).
		WithTextCode("VALIDATION_ERROR").
		WithCode(goerrors.CodeBadRequest).
		WithMetadata(map[string]any{"fields": fields}))
}

// renderError maps rich error codes onto HTTP statuses and renders the
// JSON error envelope.
func renderError(c *fiber.Ctx, err error) error {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		richErr = goerrors.Wrap(err, goerrors.CategoryInternal, "An unexpected server error occurred").
			WithCode(goerrors.CodeInternal)
	}

	status := int(richErr.Code)
	if status < 100 || status > 599 {
		status = fiber.StatusInternalServerError
	}

	body := fiber.Map{
		"message":   richErr.Message,
		"text_code": richErr.TextCode,
	}

	if fields, ok := richErr.Metadata["fields"]; ok {
		body["fields"] = fields
	}

	return c.Status(status).JSON(fiber.Map{"error": body})
}
