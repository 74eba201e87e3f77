// Package utils validates API input before it reaches the coordinator.
package utils
