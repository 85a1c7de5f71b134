package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history"))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func sampleDeployment(network, address string) *Deployment {
	return &Deployment{
		Template:     "ERC20",
		ContractName: "ERC20Token",
		Address:      address,
		TxHash:       "0xabc",
		Network:      network,
		Deployer:     "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
	}
}

func TestPutGetDeployment(t *testing.T) {
	s := newTestStore(t)

	d := sampleDeployment("sepolia", "0x1111111111111111111111111111111111111111")
	require.NoError(t, s.PutDeployment(d))
	assert.NotEmpty(t, d.ID)
	assert.False(t, d.CreatedAt.IsZero())

	got, err := s.GetDeployment(d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.Address, got.Address)
	assert.Equal(t, "ERC20", got.Template)
}

func TestGetDeploymentMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetDeployment("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListDeploymentsOrderAndLimit(t *testing.T) {
	s := newTestStore(t)

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		d := sampleDeployment("local", "0x2222222222222222222222222222222222222222")
		d.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, s.PutDeployment(d))
	}

	all, err := s.ListDeployments(0, "", "")
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		assert.True(t, !all[i].CreatedAt.Before(all[i-1].CreatedAt))
	}

	two, err := s.ListDeployments(2, "", "")
	require.NoError(t, err)
	assert.Len(t, two, 2)
}

func TestListDeploymentsJSONPathFilter(t *testing.T) {
	s := newTestStore(t)

	base := time.Now().UTC()
	for i, network := range []string{"local", "sepolia", "sepolia"} {
		d := sampleDeployment(network, "0x01")
		d.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, s.PutDeployment(d))
	}

	got, err := s.ListDeployments(0, "$.network", "sepolia")
	require.NoError(t, err)
	assert.Len(t, got, 2)
	for _, d := range got {
		assert.Equal(t, "sepolia", d.Network)
	}
}

func TestAddressBook(t *testing.T) {
	s := newTestStore(t)

	_, err := s.LookupAddress("treasury")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.PutAddress("treasury", "0x3333333333333333333333333333333333333333"))
	addr, err := s.LookupAddress("treasury")
	require.NoError(t, err)
	assert.Equal(t, "0x3333333333333333333333333333333333333333", addr)

	all, err := s.ListAddresses()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "history")
	rw, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, rw.PutAddress("a", "0x01"))
	rw.Close()

	ro, err := OpenReadOnly(dir)
	require.NoError(t, err)
	defer ro.Close()

	assert.True(t, ro.IsReadOnly())
	assert.ErrorIs(t, ro.PutAddress("b", "0x02"), ErrReadOnlyMode)
	assert.ErrorIs(t, ro.PutDeployment(sampleDeployment("local", "0x04")), ErrReadOnlyMode)

	addr, err := ro.LookupAddress("a")
	require.NoError(t, err)
	assert.Equal(t, "0x01", addr)
}
