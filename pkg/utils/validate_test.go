package utils_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/utils"
)

func TestValidate(t *testing.T) {
	_, err := utils.Validate(models.FreezeRequest{Reason: "axial-analysis"})
	assert.NoError(t, err)

	_, err = utils.Validate(models.FreezeRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field 'Reason': rule 'required'")

	_, err = utils.Validate(models.MergeRequest{SourceIDs: []int64{2, 0}, TargetID: 1, IdempotencyKey: "k"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rule 'gt'")
}

func TestValidateValue(t *testing.T) {
	assert.NoError(t, utils.ValidateValue("apply", "oneof=dry_run apply"))
	assert.Error(t, utils.ValidateValue("force", "oneof=dry_run apply"))
}

func TestBindRequest(t *testing.T) {
	e := echo.New()
	bind := func(body string) (models.RelabelRequest, error) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		c := e.NewContext(req, httptest.NewRecorder())
		return utils.BindRequest[models.RelabelRequest](c)
	}

	v, err := bind(`{"label":"Trust"}`)
	require.NoError(t, err)
	assert.Equal(t, "Trust", v.Label)

	_, err = bind(`{"label":""}`)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))

	_, err = bind(`{"label":`)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
}
