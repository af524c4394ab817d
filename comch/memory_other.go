//go:build !unix

package comch

func allocRegion(size int, _ bool) ([]byte, func([]byte) error, error) {
	return make([]byte, size), nil, nil
}
