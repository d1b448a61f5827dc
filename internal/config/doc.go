// Package config loads relay settings from environment variables, an
// optional .env file and command-line flags, in increasing precedence.
package config
