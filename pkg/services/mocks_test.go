package services

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/biomarklabs/biomark-engine/pkg/apperrors"
	"github.com/biomarklabs/biomark-engine/pkg/models"
	"github.com/biomarklabs/biomark-engine/pkg/repositories"
)

// In-memory repository fakes. They implement the same get-or-create and
// uniqueness semantics the SQL layer enforces, so service tests exercise
// real control flow.

type mockPatientRepo struct {
	patients map[uuid.UUID]*models.Patient
	order    []uuid.UUID
}

func newMockPatientRepo() *mockPatientRepo {
	return &mockPatientRepo{patients: make(map[uuid.UUID]*models.Patient)}
}

func (m *mockPatientRepo) Create(ctx context.Context, patient *models.Patient) error {
	if patient.ID == uuid.Nil {
		patient.ID = uuid.New()
	}
	if patient.Gender == "" {
		patient.Gender = models.GenderPreferNotToSay
	}
	now := time.Now()
	patient.CreatedAt = now
	patient.UpdatedAt = now
	m.patients[patient.ID] = patient
	m.order = append(m.order, patient.ID)
	return nil
}

func (m *mockPatientRepo) Get(ctx context.Context, id uuid.UUID) (*models.Patient, error) {
	if p, ok := m.patients[id]; ok {
		return p, nil
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockPatientRepo) Update(ctx context.Context, patient *models.Patient) error {
	if _, ok := m.patients[patient.ID]; !ok {
		return apperrors.ErrNotFound
	}
	patient.UpdatedAt = time.Now()
	m.patients[patient.ID] = patient
	return nil
}

func (m *mockPatientRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := m.patients[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(m.patients, id)
	return nil
}

func (m *mockPatientRepo) List(ctx context.Context, filters models.PatientFilters) ([]*models.Patient, int, error) {
	all, _ := m.ListAll(ctx)
	return all, len(all), nil
}

func (m *mockPatientRepo) ListAll(ctx context.Context) ([]*models.Patient, error) {
	out := make([]*models.Patient, 0, len(m.patients))
	for _, id := range m.order {
		if p, ok := m.patients[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockPatientRepo) SearchByNameTokens(ctx context.Context, tokens []string, limit int) ([]*models.Patient, error) {
	var out []*models.Patient
	all, _ := m.ListAll(ctx)
	for _, p := range all {
		full := strings.ToLower(p.FullName())
		for _, token := range tokens {
			if strings.Contains(full, token) {
				out = append(out, p)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockPatientRepo) SearchByBoundingBox(ctx context.Context, lat, lng, delta float64, limit int) ([]*models.Patient, error) {
	var out []*models.Patient
	all, _ := m.ListAll(ctx)
	for _, p := range all {
		if !p.HasCoordinates() {
			continue
		}
		if *p.Latitude >= lat-delta && *p.Latitude <= lat+delta &&
			*p.Longitude >= lng-delta && *p.Longitude <= lng+delta {
			out = append(out, p)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type mockUserStudyRepo struct {
	memberships map[uuid.UUID]*models.UserStudy
	order       []uuid.UUID
}

func newMockUserStudyRepo() *mockUserStudyRepo {
	return &mockUserStudyRepo{memberships: make(map[uuid.UUID]*models.UserStudy)}
}

func (m *mockUserStudyRepo) GetOrCreate(ctx context.Context, membership *models.UserStudy) (*models.UserStudy, bool, error) {
	for _, existing := range m.memberships {
		if existing.StudyID == membership.StudyID && existing.PatientID == membership.PatientID {
			return existing, false, nil
		}
	}
	if membership.ID == uuid.Nil {
		membership.ID = uuid.New()
	}
	if membership.Status == "" {
		membership.Status = models.UserStudyStatusPending
	}
	if membership.Version == 0 {
		membership.Version = 1
	}
	membership.CreatedAt = time.Now()
	membership.UpdatedAt = membership.CreatedAt
	m.memberships[membership.ID] = membership
	m.order = append(m.order, membership.ID)
	return membership, true, nil
}

func (m *mockUserStudyRepo) Get(ctx context.Context, id uuid.UUID) (*models.UserStudy, error) {
	if us, ok := m.memberships[id]; ok {
		return us, nil
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockUserStudyRepo) ListByStudy(ctx context.Context, studyID uuid.UUID) ([]*models.UserStudy, error) {
	var out []*models.UserStudy
	for _, id := range m.order {
		if us, ok := m.memberships[id]; ok && us.StudyID == studyID {
			out = append(out, us)
		}
	}
	return out, nil
}

func (m *mockUserStudyRepo) ListByStudyPage(ctx context.Context, studyID uuid.UUID, page, limit int) ([]*models.UserStudy, int, error) {
	all, _ := m.ListByStudy(ctx, studyID)
	return all, len(all), nil
}

func (m *mockUserStudyRepo) ListPatientsWithCounts(ctx context.Context, studyID uuid.UUID, page, limit int) ([]*models.StudyPatient, int, error) {
	return nil, 0, nil
}

func (m *mockUserStudyRepo) ListRecent(ctx context.Context, studyID uuid.UUID, limit int) ([]*models.UserStudy, error) {
	all, _ := m.ListByStudy(ctx, studyID)
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (m *mockUserStudyRepo) CountByStudy(ctx context.Context, studyID uuid.UUID) (int, error) {
	all, _ := m.ListByStudy(ctx, studyID)
	return len(all), nil
}

type mockResultRepo struct {
	results map[models.ResultKey]*models.StudyResult
}

func newMockResultRepo() *mockResultRepo {
	return &mockResultRepo{results: make(map[models.ResultKey]*models.StudyResult)}
}

func (m *mockResultRepo) Get(ctx context.Context, id uuid.UUID) (*models.StudyResult, error) {
	for _, res := range m.results {
		if res.ID == id {
			return res, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockResultRepo) ListExistingByKeys(ctx context.Context, keys []models.ResultKey) (map[models.ResultKey]*models.StudyResult, error) {
	out := make(map[models.ResultKey]*models.StudyResult)
	for _, key := range keys {
		if res, ok := m.results[key]; ok {
			out[key] = res
		}
	}
	return out, nil
}

func (m *mockResultRepo) BulkInsert(ctx context.Context, results []*models.StudyResult) error {
	for _, res := range results {
		if res.ID == uuid.Nil {
			res.ID = uuid.New()
		}
		m.results[models.ResultKey{UserStudyID: res.UserStudyID, StudyVariableID: res.StudyVariableID}] = res
	}
	return nil
}

func (m *mockResultRepo) BulkUpdate(ctx context.Context, results []*models.StudyResult) error {
	for _, res := range results {
		m.results[models.ResultKey{UserStudyID: res.UserStudyID, StudyVariableID: res.StudyVariableID}] = res
	}
	return nil
}

func (m *mockResultRepo) ListByUserStudies(ctx context.Context, userStudyIDs []uuid.UUID) ([]*models.StudyResult, error) {
	ids := make(map[uuid.UUID]bool, len(userStudyIDs))
	for _, id := range userStudyIDs {
		ids[id] = true
	}
	var out []*models.StudyResult
	for _, res := range m.results {
		if ids[res.UserStudyID] {
			out = append(out, res)
		}
	}
	return out, nil
}

func (m *mockResultRepo) CountByStudy(ctx context.Context, studyID uuid.UUID) (int, error) {
	return len(m.results), nil
}

func (m *mockResultRepo) DeleteByVariable(ctx context.Context, studyID, variableID uuid.UUID) (int, error) {
	deleted := 0
	for key := range m.results {
		if key.StudyVariableID == variableID {
			delete(m.results, key)
			deleted++
		}
	}
	return deleted, nil
}

type mockVariableRepo struct {
	variables map[uuid.UUID]*models.StudyVariable
	links     map[uuid.UUID][]uuid.UUID // studyID -> variable IDs
}

func newMockVariableRepo() *mockVariableRepo {
	return &mockVariableRepo{
		variables: make(map[uuid.UUID]*models.StudyVariable),
		links:     make(map[uuid.UUID][]uuid.UUID),
	}
}

func (m *mockVariableRepo) Create(ctx context.Context, variable *models.StudyVariable) error {
	return m.CreateBatch(ctx, []*models.StudyVariable{variable})
}

func (m *mockVariableRepo) CreateBatch(ctx context.Context, variables []*models.StudyVariable) error {
	for _, v := range variables {
		if v.ID == uuid.Nil {
			v.ID = uuid.New()
		}
		if v.Type == "" {
			v.Type = models.VariableTypeText
		}
		if v.Status == "" {
			v.Status = models.VariableStatusActive
		}
		m.variables[v.ID] = v
	}
	return nil
}

func (m *mockVariableRepo) Get(ctx context.Context, id uuid.UUID) (*models.StudyVariable, error) {
	if v, ok := m.variables[id]; ok {
		return v, nil
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockVariableRepo) Update(ctx context.Context, variable *models.StudyVariable) error {
	if _, ok := m.variables[variable.ID]; !ok {
		return apperrors.ErrNotFound
	}
	m.variables[variable.ID] = variable
	return nil
}

func (m *mockVariableRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := m.variables[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(m.variables, id)
	return nil
}

func (m *mockVariableRepo) ListByStudy(ctx context.Context, studyID uuid.UUID) ([]*models.StudyVariable, error) {
	var out []*models.StudyVariable
	for _, id := range m.links[studyID] {
		if v, ok := m.variables[id]; ok {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (m *mockVariableRepo) LinkToStudy(ctx context.Context, studyID uuid.UUID, variableIDs []uuid.UUID) error {
	existing := make(map[uuid.UUID]bool)
	for _, id := range m.links[studyID] {
		existing[id] = true
	}
	for _, id := range variableIDs {
		if !existing[id] {
			m.links[studyID] = append(m.links[studyID], id)
		}
	}
	return nil
}

func (m *mockVariableRepo) UnlinkFromStudy(ctx context.Context, studyID, variableID uuid.UUID) error {
	linked := m.links[studyID]
	for i, id := range linked {
		if id == variableID {
			m.links[studyID] = append(linked[:i], linked[i+1:]...)
			return nil
		}
	}
	return apperrors.ErrNotFound
}

func (m *mockVariableRepo) CountStudyLinks(ctx context.Context, variableID uuid.UUID) (int, error) {
	count := 0
	for _, linked := range m.links {
		for _, id := range linked {
			if id == variableID {
				count++
			}
		}
	}
	return count, nil
}

type mockJobRepo struct {
	jobs map[uuid.UUID]*models.ImportJob
}

func newMockJobRepo() *mockJobRepo {
	return &mockJobRepo{jobs: make(map[uuid.UUID]*models.ImportJob)}
}

func (m *mockJobRepo) Create(ctx context.Context, job *models.ImportJob) error {
	for _, existing := range m.jobs {
		if existing.StudyID == job.StudyID && existing.IsActive() {
			return apperrors.ErrImportInProgress
		}
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = models.ImportJobPending
	}
	job.CreatedAt = time.Now()
	job.UpdatedAt = job.CreatedAt
	m.jobs[job.ID] = m.clone(job)
	return nil
}

func (m *mockJobRepo) Get(ctx context.Context, id uuid.UUID) (*models.ImportJob, error) {
	if job, ok := m.jobs[id]; ok {
		return m.clone(job), nil
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockJobRepo) Update(ctx context.Context, job *models.ImportJob) error {
	if _, ok := m.jobs[job.ID]; !ok {
		return apperrors.ErrNotFound
	}
	job.UpdatedAt = time.Now()
	m.jobs[job.ID] = m.clone(job)
	return nil
}

func (m *mockJobRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status, pausedReason string) error {
	job, ok := m.jobs[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	job.Status = status
	job.PausedReason = pausedReason
	job.UpdatedAt = time.Now()
	return nil
}

func (m *mockJobRepo) GetStatus(ctx context.Context, id uuid.UUID) (string, error) {
	if job, ok := m.jobs[id]; ok {
		return job.Status, nil
	}
	return "", apperrors.ErrNotFound
}

func (m *mockJobRepo) FindActiveByStudy(ctx context.Context, studyID uuid.UUID) (*models.ImportJob, error) {
	for _, job := range m.jobs {
		if job.StudyID == studyID && job.IsActive() {
			return m.clone(job), nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockJobRepo) ListByStudy(ctx context.Context, studyID uuid.UUID) ([]*models.ImportJob, error) {
	var out []*models.ImportJob
	for _, job := range m.jobs {
		if job.StudyID == studyID {
			out = append(out, m.clone(job))
		}
	}
	return out, nil
}

func (m *mockJobRepo) ListInterrupted(ctx context.Context) ([]*models.ImportJob, error) {
	var out []*models.ImportJob
	for _, job := range m.jobs {
		if job.Status == models.ImportJobRunning {
			out = append(out, m.clone(job))
		}
	}
	return out, nil
}

func (m *mockJobRepo) clone(job *models.ImportJob) *models.ImportJob {
	c := *job
	c.Errors = append(models.ImportErrors(nil), job.Errors...)
	return &c
}

type mockStudyRepo struct {
	studies map[uuid.UUID]*models.Study
}

func newMockStudyRepo() *mockStudyRepo {
	return &mockStudyRepo{studies: make(map[uuid.UUID]*models.Study)}
}

func (m *mockStudyRepo) Create(ctx context.Context, study *models.Study) error {
	if study.ID == uuid.Nil {
		study.ID = uuid.New()
	}
	if study.Status == "" {
		study.Status = models.StudyStatusActive
	}
	if study.Version == 0 {
		study.Version = 1
	}
	study.CreatedAt = time.Now()
	study.UpdatedAt = study.CreatedAt
	m.studies[study.ID] = study
	return nil
}

func (m *mockStudyRepo) Get(ctx context.Context, id uuid.UUID) (*models.Study, error) {
	if s, ok := m.studies[id]; ok {
		copied := *s
		return &copied, nil
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockStudyRepo) Update(ctx context.Context, study *models.Study) error {
	if _, ok := m.studies[study.ID]; !ok {
		return apperrors.ErrNotFound
	}
	study.UpdatedAt = time.Now()
	copied := *study
	m.studies[study.ID] = &copied
	return nil
}

func (m *mockStudyRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := m.studies[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(m.studies, id)
	return nil
}

func (m *mockStudyRepo) List(ctx context.Context, filters models.StudyFilters) ([]*models.Study, int, error) {
	var out []*models.Study
	for _, s := range m.studies {
		copied := *s
		out = append(out, &copied)
	}
	return out, len(out), nil
}

func (m *mockStudyRepo) Stats(ctx context.Context, filters models.StudyFilters) (*models.StudyStats, error) {
	return &models.StudyStats{Total: len(m.studies)}, nil
}

var (
	_ repositories.PatientRepository   = (*mockPatientRepo)(nil)
	_ repositories.UserStudyRepository = (*mockUserStudyRepo)(nil)
	_ repositories.ResultRepository    = (*mockResultRepo)(nil)
	_ repositories.VariableRepository  = (*mockVariableRepo)(nil)
	_ repositories.ImportJobRepository = (*mockJobRepo)(nil)
	_ repositories.StudyRepository     = (*mockStudyRepo)(nil)
)
