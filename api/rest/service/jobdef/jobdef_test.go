package jobdef

import (
	"context"
	"testing"

	"github.com/crn-cloud/crn/internal/batch"
	"github.com/crn-cloud/crn/internal/batch/batchtest"
	"github.com/crn-cloud/crn/internal/models"
	"github.com/crn-cloud/crn/internal/testutil"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newService(t *testing.T) (JobDefinition, *batchtest.Fake, *gorm.DB) {
	t.Helper()

	db := testutil.OpenTestDB(t)
	t.Cleanup(func() { testutil.CloseDB(db) })

	backend := batchtest.New()
	svc := NewService(context.Background(), Deps{DB: db, Backend: backend})
	return svc, backend, db
}

func registerRequest(name string) *RegisterRequest {
	req := &RegisterRequest{
		Parameters:         map[string]interface{}{"n_procs": 4},
		Descriptions:       map[string]interface{}{"n_procs": "worker processes"},
		ParametersMetadata: map[string]interface{}{"n_procs": map[string]interface{}{"type": "number"}},
		AnalysisLevels:     []string{"participant", "group"},
	}
	req.Name = name
	req.Image = "poldracklab/mriqc:0.16.1"
	req.Command = []string{"mriqc", "/data", "/out"}
	return req
}

func TestRegisterPersistsMetadata(t *testing.T) {
	svc, _, db := newService(t)

	described, err := svc.Register(registerRequest("mriqc"))
	require.NoError(t, err)
	require.Equal(t, "mriqc", described.Name)
	require.Equal(t, 1, described.Revision)
	require.NotEmpty(t, described.Ref)
	require.Equal(t, []string{"participant", "group"}, described.AnalysisLevels)

	var row models.DefinitionMetadata
	require.NoError(t, db.First(&row, "ref = ?", described.Ref).Error)
	require.Equal(t, "mriqc", row.Name)
}

func TestRegisterBumpsRevision(t *testing.T) {
	svc, _, _ := newService(t)

	first, err := svc.Register(registerRequest("mriqc"))
	require.NoError(t, err)
	second, err := svc.Register(registerRequest("mriqc"))
	require.NoError(t, err)

	require.Equal(t, 1, first.Revision)
	require.Equal(t, 2, second.Revision)
	require.NotEqual(t, first.Ref, second.Ref)
}

func TestDescribeJoinsMetadata(t *testing.T) {
	svc, _, _ := newService(t)

	_, err := svc.Register(registerRequest("mriqc"))
	require.NoError(t, err)
	_, err = svc.Register(registerRequest("mriqc"))
	require.NoError(t, err)
	_, err = svc.Register(registerRequest("fmriprep"))
	require.NoError(t, err)

	defs, err := svc.Describe()
	require.NoError(t, err)
	require.Len(t, defs, 2)
	require.Len(t, defs["mriqc"], 2)
	require.Len(t, defs["fmriprep"], 1)

	described := defs["mriqc"][2]
	require.Equal(t, "worker processes", described.Descriptions["n_procs"])
	require.Equal(t, []string{"participant", "group"}, described.AnalysisLevels)
}

func TestDescribeFollowsPagination(t *testing.T) {
	svc, backend, _ := newService(t)
	backend.PageSize = 1

	for _, name := range []string{"mriqc", "fmriprep", "freesurfer"} {
		_, err := svc.Register(registerRequest(name))
		require.NoError(t, err)
	}

	defs, err := svc.Describe()
	require.NoError(t, err)
	require.Len(t, defs, 3)
}

func TestDescribeMissingMetadataYieldsEmptyStructures(t *testing.T) {
	svc, backend, _ := newService(t)

	// Registered straight at the backend, bypassing the service.
	spec := batch.DefinitionSpec{Name: "orphan", Image: "busybox"}
	_, err := backend.RegisterDefinition(context.Background(), spec)
	require.NoError(t, err)

	defs, err := svc.Describe()
	require.NoError(t, err)
	require.Len(t, defs["orphan"], 1)
	described := defs["orphan"][1]
	require.Empty(t, described.Parameters)
	require.Empty(t, described.AnalysisLevels)
	require.NotNil(t, described.AnalysisLevels)
}

func TestDeleteRemovesBackendAndMetadata(t *testing.T) {
	svc, backend, db := newService(t)

	described, err := svc.Register(registerRequest("mriqc"))
	require.NoError(t, err)

	require.NoError(t, svc.Delete(described.Ref))

	var count int64
	require.NoError(t, db.Model(&models.DefinitionMetadata{}).Count(&count).Error)
	require.Zero(t, count)

	page, err := backend.DescribeDefinitions(context.Background(), nil, "")
	require.NoError(t, err)
	require.Empty(t, page.Definitions)

	require.ErrorIs(t, svc.Delete(described.Ref), batch.ErrDefinitionNotFound)
}
