//go:build !linux

package disk

func adviseWillNeed(string) {}
