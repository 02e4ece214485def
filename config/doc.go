// Package config loads and validates stagerun configuration.
//
// A configuration has three parts: engine tuning (watermarks, executor,
// metrics endpoint), the NATS connection and a linear pipeline (source,
// stages, sink). Files may be JSON or YAML; the format follows the extension.
//
// # Loading
//
// Loader starts from Default, merges each layer in order, checks the merged
// document against the embedded JSON schema, applies STAGEGRAPH_*
// environment overrides and finally runs Validate:
//
//	loader := config.NewLoader()
//	loader.AddLayer("configs/base.yaml")
//	loader.AddLayer("configs/local.json") // overrides base
//
//	cfg, err := loader.Load()
//	if err != nil {
//		return err
//	}
//
// Maps merge key by key; lists such as pipeline.stages replace the earlier
// value as a whole.
//
// # Validation
//
// The schema catches structural mistakes (unknown keys, wrong types, unknown
// stage types). Validate covers rules across fields: low watermark below the
// high one, pool sizing, literal NATS subjects, per-stage parameters. Every
// failure wraps errors.ErrInvalidConfig or errors.ErrMissingConfig.
//
// # Thread-Safe Access
//
// SafeConfig guards a configuration shared across goroutines. Get returns a
// copy; Update validates before swapping.
//
// # Environment Overrides
//
//	STAGEGRAPH_NATS_URLS      comma separated server URLs
//	STAGEGRAPH_NATS_USERNAME  NATS user
//	STAGEGRAPH_NATS_PASSWORD  NATS password
//	STAGEGRAPH_NATS_TOKEN     NATS token
//	STAGEGRAPH_METRICS_ADDR   metrics listen address
//	STAGEGRAPH_EXECUTOR       inline, goroutine or pool
package config
