package config

import (
	"fmt"
	"strings"
	"time"
)

// Transport names accepted by TRANSPORT.
const (
	TransportAuto     = "auto"
	TransportHTTP     = "http"
	TransportStdio    = "stdio"
	TransportLambda   = "lambda"
	TransportRabbitMQ = "rabbitmq"
)

// Config holds all application configuration
type Config struct {
	// Core settings
	Environment string
	ServiceName string
	LogLevel    string
	Version     string

	// Transport selects the runtime that carries envelopes (see Transport* constants)
	Transport string

	// Component configurations
	HTTP     HTTPConfig
	Lambda   LambdaConfig
	RabbitMQ RabbitMQConfig
	Handler  HandlerConfig
}

// HTTPConfig holds HTTP transport configuration
type HTTPConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// LambdaConfig holds Lambda-specific configuration
type LambdaConfig struct {
	EnablePartialBatchFailure bool
}

// RabbitMQConfig holds RabbitMQ transport configuration
type RabbitMQConfig struct {
	URL           string
	Queue         string
	PrefetchCount int
	Timeout       time.Duration
}

// HandlerConfig holds dispatcher configuration
type HandlerConfig struct {
	// Timeout bounds one dispatch when a transport installs the timeout middleware; 0 disables it
	Timeout        time.Duration
	MaxRequestSize int64
	FormMaxMemory  int64
	EnableMetrics  bool
	EnableTracing  bool
}

var validTransports = map[string]bool{
	TransportAuto:     true,
	TransportHTTP:     true,
	TransportStdio:    true,
	TransportLambda:   true,
	TransportRabbitMQ: true,
}

// Validate validates the entire configuration
func (c *Config) Validate() error {
	var errors []string

	if c.ServiceName == "" {
		errors = append(errors, "SERVICE_NAME is required")
	}
	if !validTransports[c.Transport] {
		errors = append(errors, fmt.Sprintf("TRANSPORT %q is not one of auto, http, stdio, lambda, rabbitmq", c.Transport))
	}

	if c.Transport == TransportHTTP && c.HTTP.Addr == "" {
		errors = append(errors, "HTTP_ADDR is required for the http transport")
	}
	if c.Transport == TransportRabbitMQ {
		if c.RabbitMQ.URL == "" {
			errors = append(errors, "RABBITMQ_URL is required for the rabbitmq transport")
		}
		if c.RabbitMQ.Queue == "" {
			errors = append(errors, "RABBITMQ_QUEUE is required for the rabbitmq transport")
		}
	}

	if c.Handler.Timeout < 0 {
		errors = append(errors, "HANDLER_TIMEOUT cannot be negative")
	}
	if c.Handler.MaxRequestSize <= 0 {
		errors = append(errors, "HANDLER_MAX_REQUEST_SIZE must be positive")
	}
	if c.Handler.FormMaxMemory <= 0 {
		errors = append(errors, "HANDLER_FORM_MAX_MEMORY must be positive")
	}
	if c.RabbitMQ.PrefetchCount < 0 {
		errors = append(errors, "RABBITMQ_PREFETCH_COUNT cannot be negative")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errors, "; "))
	}

	return nil
}

// applyDefaults applies environment-specific defaults
func (c *Config) applyDefaults() {
	c.Transport = strings.ToLower(c.Transport)
	if c.Transport == "" {
		c.Transport = TransportAuto
	}

	if c.IsProduction() {
		c.Handler.EnableMetrics = true
		c.Handler.EnableTracing = true
	}

	if c.IsLocal() && c.LogLevel == "" {
		c.LogLevel = "debug"
	}
}
