// Package ayontest provides a testify mock of ayon.Service.
package ayontest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/richinsley/comfy2ayon/ayon"
)

type MockService struct {
	mock.Mock
}

var _ ayon.Service = (*MockService)(nil)

// ptr returns args.Get(i) as *T, nil when the mock was told to return nil.
func ptr[T any](args mock.Arguments, i int) *T {
	if v := args.Get(i); v != nil {
		return v.(*T)
	}
	return nil
}

func slice[T any](args mock.Arguments, i int) []T {
	if v := args.Get(i); v != nil {
		return v.([]T)
	}
	return nil
}

func (m *MockService) GetProject(ctx context.Context, project string) (*ayon.Project, error) {
	args := m.Called(ctx, project)
	return ptr[ayon.Project](args, 0), args.Error(1)
}

func (m *MockService) GetFolderByPath(ctx context.Context, project, folderPath string) (*ayon.Folder, error) {
	args := m.Called(ctx, project, folderPath)
	return ptr[ayon.Folder](args, 0), args.Error(1)
}

func (m *MockService) GetFolders(ctx context.Context, project string) ([]ayon.Folder, error) {
	args := m.Called(ctx, project)
	return slice[ayon.Folder](args, 0), args.Error(1)
}

func (m *MockService) GetTasksByFolderPath(ctx context.Context, project, folderPath string) ([]ayon.Task, error) {
	args := m.Called(ctx, project, folderPath)
	return slice[ayon.Task](args, 0), args.Error(1)
}

func (m *MockService) GetTaskByFolderPath(ctx context.Context, project, folderPath, taskName string) (*ayon.Task, error) {
	args := m.Called(ctx, project, folderPath, taskName)
	return ptr[ayon.Task](args, 0), args.Error(1)
}

func (m *MockService) GetProductByName(ctx context.Context, project, folderID, name string) (*ayon.Product, error) {
	args := m.Called(ctx, project, folderID, name)
	return ptr[ayon.Product](args, 0), args.Error(1)
}

func (m *MockService) GetProduct(ctx context.Context, project, productID string) (*ayon.Product, error) {
	args := m.Called(ctx, project, productID)
	return ptr[ayon.Product](args, 0), args.Error(1)
}

func (m *MockService) CreateProduct(ctx context.Context, project string, product ayon.Product) (ayon.CreateResult, error) {
	args := m.Called(ctx, project, product)
	return args.Get(0).(ayon.CreateResult), args.Error(1)
}

func (m *MockService) GetVersions(ctx context.Context, project, productID string) ([]ayon.Version, error) {
	args := m.Called(ctx, project, productID)
	return slice[ayon.Version](args, 0), args.Error(1)
}

func (m *MockService) CreateVersion(ctx context.Context, project string, version ayon.Version) (ayon.CreateResult, error) {
	args := m.Called(ctx, project, version)
	return args.Get(0).(ayon.CreateResult), args.Error(1)
}

func (m *MockService) CreateRepresentation(ctx context.Context, project string, rep ayon.Representation) (ayon.CreateResult, error) {
	args := m.Called(ctx, project, rep)
	return args.Get(0).(ayon.CreateResult), args.Error(1)
}

func (m *MockService) UploadReviewable(ctx context.Context, project, versionID, filePath string) error {
	args := m.Called(ctx, project, versionID, filePath)
	return args.Error(0)
}

func (m *MockService) GetProductTypes(ctx context.Context, project string) ([]string, error) {
	args := m.Called(ctx, project)
	return slice[string](args, 0), args.Error(1)
}

func (m *MockService) GetAddonProjectSettings(ctx context.Context, addon, version, project string) (map[string]any, error) {
	args := m.Called(ctx, addon, version, project)
	if v := args.Get(0); v != nil {
		return v.(map[string]any), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockService) GetBundleSettings(ctx context.Context, bundle, project string) (map[string]map[string]any, error) {
	args := m.Called(ctx, bundle, project)
	if v := args.Get(0); v != nil {
		return v.(map[string]map[string]any), args.Error(1)
	}
	return nil, args.Error(1)
}
