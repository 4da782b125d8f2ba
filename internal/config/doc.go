// Package config provides configuration management for Fairy.
//
// # Overview
//
// The config package uses Viper to load configuration from a YAML file and
// environment variables. Defaults are applied first, so a file written by an
// older version keeps working when new keys are added.
//
// # Configuration File
//
// The configuration is stored at ~/.fairy/config.yaml and is created with
// default values on first use. The file structure mirrors the Go structs
// defined in this package:
//
//	server:         websocket listener (addr, command_timeout, ...)
//	llm:            provider (ollama or gemini), endpoint, model
//	agent:          max_steps, recall_limit, system_prompt
//	shell:          extra_banned_keywords, timeout, working_dir
//	desktop:        screenshot_dir
//	vision:         local and cloud models, capture path
//	search:         backend (duckduckgo or tavily), cache
//	memory:         SQLite path and driver, chunking, pruning
//	transcription:  whisper-compatible endpoint
//	logging:        level, format, file
//
// # Environment Variables
//
// Every value can be overridden with the FAIRY_ prefix. Nested fields are
// separated by underscores:
//
//   - FAIRY_LLM_PROVIDER=gemini
//   - FAIRY_SERVER_ADDR=127.0.0.1:5000
//   - FAIRY_LOGGING_LEVEL=debug
//
// GEMINI_API_KEY fills llm.api_key and vision.cloud_api_key, and
// TAVILY_API_KEY fills search.api_key.
//
// # Live Reload
//
// Watch follows the file while the server runs. Only settings that are
// safe to swap on a live process are applied: the log level and the shell
// denylist. Everything else takes effect on restart.
package config
