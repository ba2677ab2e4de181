//go:build !linux

package camera

// V4L2 ドライバーは Linux 以外では登録しない
func registerPlatformDrivers(_ *DefaultDriverFactory) {}
