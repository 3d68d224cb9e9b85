//go:build !linux

package bluetooth

func openRadio(string) (radio, error) {
	return nil, ErrUnsupportedPlatform
}
