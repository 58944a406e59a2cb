package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/matryer/is"
)

func TestAccessIsDeniedWithoutToken(t *testing.T) {
	is, authenticator := testSetup(t)

	r := httptest.NewRequest(http.MethodGet, "/ngsi-ld/v1/entities", nil)

	_, err := authenticator.CheckAccess(context.Background(), r, "default", nil)
	is.True(errors.Is(err, ErrAccessDenied))
}

func TestSubjectIsResolvedFromToken(t *testing.T) {
	is, authenticator := testSetup(t)

	r := httptest.NewRequest(http.MethodGet, "/ngsi-ld/v1/entities", nil)
	r.Header.Set("Authorization", "Bearer beekeeper")

	subject, err := authenticator.CheckAccess(context.Background(), r, "default", nil)
	is.NoErr(err)
	is.Equal(subject, "urn:ngsi-ld:User:beekeeper")
}

func TestWritesRequireWriterToken(t *testing.T) {
	is, authenticator := testSetup(t)

	r := httptest.NewRequest(http.MethodDelete, "/ngsi-ld/v1/entities/urn:ngsi-ld:Beehive:01", nil)
	r.Header.Set("Authorization", "Bearer reader")

	_, err := authenticator.CheckAccess(context.Background(), r, "default", nil)
	is.True(errors.Is(err, ErrAccessDenied))
}

func TestInvalidPolicyIsRejected(t *testing.T) {
	is := is.New(t)

	_, err := NewAuthenticator(context.Background(), strings.NewReader("this is not rego"))
	is.True(err != nil) // should fail to compile the policy
}

func testSetup(t *testing.T) (*is.I, Enticator) {
	is := is.New(t)

	authenticator, err := NewAuthenticator(context.Background(), strings.NewReader(policies))
	is.NoErr(err)

	return is, authenticator
}

const policies string = `
package graphbroker.authz

default allow = false

writer {
	input.token != "reader"
}

allow = response {
	input.token != ""
	input.method == "GET"
	response := {"subject": concat(":", ["urn:ngsi-ld:User", input.token])}
}

allow = response {
	input.token != ""
	input.method != "GET"
	writer
	response := {"subject": concat(":", ["urn:ngsi-ld:User", input.token])}
}
`
