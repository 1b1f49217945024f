package ai

import (
	"errors"
	"fmt"
	"os"

	"gocv.io/x/gocv"
)

// ErrImageDecode reports an image path that is missing, unreadable or not an image.
var ErrImageDecode = errors.New("image could not be decoded")

// LoadImage decodes the image at path into a BGR Mat owned by the caller.
func LoadImage(path string) (gocv.Mat, error) {
	info, err := os.Stat(path)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("%w: %v", ErrImageDecode, err)
	}
	if info.IsDir() {
		return gocv.Mat{}, fmt.Errorf("%w: %s is a directory", ErrImageDecode, path)
	}

	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		mat.Close()
		return gocv.Mat{}, fmt.Errorf("%w: %s", ErrImageDecode, path)
	}
	return mat, nil
}

// EncodeJPEG encodes a Mat as JPEG bytes.
func EncodeJPEG(mat gocv.Mat) ([]byte, error) {
	if mat.Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrImageDecode)
	}
	buf, err := gocv.IMEncode(".jpg", mat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	defer buf.Close()

	data := buf.GetBytes()
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}
