//go:build !linux

package rt

func lockMemory() error { return nil }
