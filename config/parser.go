package config

// parse builds a Config from src and applies the environment defaults.
func parse(src *source) (*Config, error) {
	httpDefaults := DefaultHTTPConfig()
	rmqDefaults := DefaultRabbitMQConfig()
	handlerDefaults := DefaultHandlerConfig()

	environment := src.environmentName()
	if environment == "" {
		environment = "local"
	}

	cfg := &Config{
		// Core
		Environment: environment,
		ServiceName: src.get("SERVICE_NAME", "cloudcode"),
		LogLevel:    src.get("LOG_LEVEL", ""),
		Version:     src.get("SERVICE_VERSION", "1.0.0"),
		Transport:   src.get("TRANSPORT", TransportAuto),

		HTTP: HTTPConfig{
			Addr:         src.get("HTTP_ADDR", httpDefaults.Addr),
			ReadTimeout:  src.getDuration("HTTP_READ_TIMEOUT", httpDefaults.ReadTimeout),
			WriteTimeout: src.getDuration("HTTP_WRITE_TIMEOUT", httpDefaults.WriteTimeout),
		},

		Lambda: LambdaConfig{
			EnablePartialBatchFailure: src.getBool("LAMBDA_PARTIAL_BATCH_FAILURE", true),
		},

		RabbitMQ: RabbitMQConfig{
			URL:           src.get("RABBITMQ_URL", rmqDefaults.URL),
			Queue:         src.get("RABBITMQ_QUEUE", rmqDefaults.Queue),
			PrefetchCount: src.getInt("RABBITMQ_PREFETCH_COUNT", rmqDefaults.PrefetchCount),
			Timeout:       src.getDuration("RABBITMQ_TIMEOUT", rmqDefaults.Timeout),
		},

		Handler: HandlerConfig{
			Timeout:        src.getDuration("HANDLER_TIMEOUT", handlerDefaults.Timeout),
			MaxRequestSize: src.getInt64("HANDLER_MAX_REQUEST_SIZE", handlerDefaults.MaxRequestSize),
			FormMaxMemory:  src.getInt64("HANDLER_FORM_MAX_MEMORY", handlerDefaults.FormMaxMemory),
			EnableMetrics:  src.getBool("HANDLER_ENABLE_METRICS", true),
			EnableTracing:  src.getBool("HANDLER_ENABLE_TRACING", true),
		},
	}

	cfg.applyDefaults()
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	return cfg, nil
}
