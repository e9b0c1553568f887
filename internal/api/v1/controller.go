// Package api serves the notification ingress and configuration HTTP API.
package api

import (
	"net/http"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tphakala/notifyroute/internal/channels"
	"github.com/tphakala/notifyroute/internal/datastore/repository"
	"github.com/tphakala/notifyroute/internal/errors"
	"github.com/tphakala/notifyroute/internal/logger"
	"github.com/tphakala/notifyroute/internal/routing"
	"golang.org/x/text/language"
	"golang.org/x/time/rate"
)

// BasePath is the prefix of every notification route.
const BasePath = "/api/v1/notifications"

// Query parameter values.
const QueryValueTrue = "true"

const rateLimitExpiry = 3 * time.Minute

// Options tunes the HTTP layer.
type Options struct {
	// RatePerSecond and Burst limit requests per client IP. Zero disables it.
	RatePerSecond float64
	Burst         int
	// Gatherer backs GET /metrics. Nil leaves the route out.
	Gatherer prometheus.Gatherer
}

// Controller owns the echo instance and the services behind the routes.
type Controller struct {
	Echo  *echo.Echo
	Group *echo.Group

	store    *repository.Store
	channels *channels.Service
	ingest   *routing.Service
	opts     Options
	log      logger.Logger
}

// New builds the echo instance and registers every route.
func New(store *repository.Store, channelSvc *channels.Service, ingest *routing.Service, opts Options, log logger.Logger) *Controller {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = newValidator()

	c := &Controller{
		Echo:     e,
		store:    store,
		channels: channelSvc,
		ingest:   ingest,
		opts:     opts,
		log:      log.Module("api"),
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(c.requestLogger())
	if opts.RatePerSecond > 0 {
		e.Use(middleware.RateLimiterWithConfig(c.rateLimiterConfig()))
	}

	e.GET("/healthz", func(ctx echo.Context) error {
		return ctx.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	c.Group = e.Group(BasePath)
	c.initEventRoutes()
	c.initChannelRoutes()
	c.initTemplateRoutes()
	c.initRecipientRoutes()
	c.initRuleRoutes()
	c.initLogRoutes()
	return c
}

func (c *Controller) rateLimiterConfig() middleware.RateLimiterConfig {
	burst := c.opts.Burst
	if burst < 1 {
		burst = int(c.opts.RatePerSecond) + 1
	}
	return middleware.RateLimiterConfig{
		Skipper: middleware.DefaultSkipper,
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(c.opts.RatePerSecond),
				Burst:     burst,
				ExpiresIn: rateLimitExpiry,
			},
		),
		IdentifierExtractor: func(ctx echo.Context) (string, error) {
			return ctx.RealIP(), nil
		},
		ErrorHandler: func(ctx echo.Context, err error) error {
			return ctx.JSON(http.StatusForbidden, map[string]string{"error": "Unable to identify client"})
		},
		DenyHandler: func(ctx echo.Context, identifier string, err error) error {
			return ctx.JSON(http.StatusTooManyRequests, map[string]string{"error": "Too many requests, please slow down"})
		},
	}
}

func (c *Controller) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogMethod:    true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			c.log.Debug("http request",
				logger.String("method", v.Method),
				logger.String("uri", v.URI),
				logger.Int("status", v.Status),
				logger.Duration("latency", v.Latency),
				logger.String("request_id", v.RequestID))
			return nil
		},
	})
}

// HandleError writes err as a JSON error response. Categorized and
// not-found errors map to client statuses with their own message; anything
// else is logged and answered with fallback.
func (c *Controller) HandleError(ctx echo.Context, err error, fallback string) error {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		c.log.Error(fallback,
			logger.String("path", ctx.Path()),
			logger.Error(err))
		return ctx.JSON(status, map[string]string{"error": fallback})
	}

	body := map[string]any{"error": clientMessage(err)}
	var verr *channels.ValidationError
	if errors.As(err, &verr) && len(verr.Missing) > 0 {
		body["missing"] = verr.Missing
	}
	return ctx.JSON(status, body)
}

// statusFor maps err onto an HTTP status. The category wins over a wrapped
// not-found sentinel, so an unknown id inside a request body stays a 400.
func statusFor(err error) int {
	switch errors.CategoryOf(err) {
	case errors.CategoryValidation:
		return http.StatusBadRequest
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryConflict:
		return http.StatusConflict
	case errors.CategoryTransient:
		return http.StatusServiceUnavailable
	}
	if repository.IsNotFound(err) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// clientMessage prefers a categorized error's client message and otherwise
// strips its operation prefix.
func clientMessage(err error) string {
	var verr *channels.ValidationError
	if errors.As(err, &verr) {
		return verr.Reason
	}
	var cerr *errors.Error
	if errors.As(err, &cerr) {
		if cerr.Message != "" {
			return cerr.Message
		}
		return cerr.Err.Error()
	}
	return err.Error()
}

// bindAndValidate decodes the request body into v and runs its validate tags.
func bindAndValidate(ctx echo.Context, v any) error {
	if err := ctx.Bind(v); err != nil {
		msg := "Invalid request body"
		var he *echo.HTTPError
		if errors.As(err, &he) {
			if s, ok := he.Message.(string); ok && s != "" {
				msg = "Invalid request body: " + s
			}
		}
		return errors.Validation("bind", msg)
	}
	if err := ctx.Validate(v); err != nil {
		return errors.WithCategory(err, errors.CategoryValidation, "validate")
	}
	return nil
}

var clockPattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// requestValidator adapts validator/v10 to echo.Validator.
type requestValidator struct {
	v *validator.Validate
}

func newValidator() *requestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
		return clockPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("locale", func(fl validator.FieldLevel) bool {
		_, err := language.Parse(fl.Field().String())
		return err == nil
	})
	return &requestValidator{v: v}
}

// Validate implements echo.Validator. Field errors are flattened into one
// readable message.
func (rv *requestValidator) Validate(i any) error {
	err := rv.v.Struct(i)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "hhmm":
		return field + " must be HH:MM"
	case "locale":
		return field + " must be a language tag like en or pt-BR"
	case "min":
		return field + " must be at least " + fe.Param()
	case "max":
		return field + " must be at most " + fe.Param()
	case "oneof":
		return field + " must be one of " + fe.Param()
	default:
		return field + " is invalid"
	}
}
