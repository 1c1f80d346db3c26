// Package config loads, validates, and normalizes SnowTower configuration.
//
// Configuration lives in a TOML file (default ~/.config/snowtower/config.toml,
// with a snowtower.toml in the working directory as a project-local fallback).
// Load applies defaults, expands ~ in paths, pulls secrets from the
// environment where appropriate, and validates the result so the rest of the
// system can trust every field.
package config
