package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("LARDER_TEST_MODE") == "" {
			_ = os.Setenv("LARDER_TEST_MODE", "1")
		}
	})
}
