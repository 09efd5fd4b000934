package membership_test

import (
	"testing"

	membership "github.com/bohemiyan/orgmembership"
	"github.com/bohemiyan/orgmembership/internal/storetest"
)

func TestMemoryStoreContract(t *testing.T) {
	storetest.Run(t, membership.NewMemoryStore())
}
