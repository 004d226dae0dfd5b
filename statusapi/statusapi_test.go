package statusapi_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	election "github.com/clustermind/electiond"
	"github.com/clustermind/electiond/statusapi"
)

func TestStatusEndpointReportsRegisteredMembers(t *testing.T) {
	registry := statusapi.NewRegistry()

	var c1, c2 election.StateCounter
	c1.Store(election.StateLeaderReady)
	c2.Store(election.StateFollowerReady)
	registry.Register(2, &c2)
	registry.Register(1, &c1)

	mux := http.NewServeMux()
	statusapi.NewServer(registry).Install(mux)

	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + statusapi.StatusPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got []statusapi.MemberStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Equal(t, []statusapi.MemberStatus{
		{MemberID: 1, State: "LEADER_READY"},
		{MemberID: 2, State: "FOLLOWER_READY"},
	}, got)
}
