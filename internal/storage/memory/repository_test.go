package memory

import (
	"testing"

	"github.com/JakeFAU/crawler-manager/internal/crawler"
	"github.com/JakeFAU/crawler-manager/internal/storage/storagetest"
)

func TestRepositoryContract(t *testing.T) {
	t.Parallel()

	storagetest.RunRepositoryContract(t, func(*testing.T) crawler.Repository {
		return NewRepository()
	})
}
