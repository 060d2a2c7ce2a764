package data

import (
	"context"

	"youth-mis/internal/model"
)

// Facade groups one repository per entity and names every operation the
// dashboard uses.
type Facade struct {
	client *Client

	Students      *Repository[model.Student]
	Trainers      *Repository[model.Trainer]
	Employees     *Repository[model.Employee]
	Jobs          *Repository[model.JobPosting]
	Inventory     *Repository[model.Product]
	Programs      *Repository[model.Program]
	Reports       *Repository[model.Report]
	Profiles      *Repository[model.Profile]
	Notifications *Notifications
	Dashboard     *Dashboard
}

func NewFacade(c *Client) *Facade {
	f := &Facade{
		client:    c,
		Students:  NewRepository[model.Student](c, model.TableStudents, "student"),
		Trainers:  NewRepository[model.Trainer](c, model.TableTrainers, "trainer"),
		Employees: NewRepository[model.Employee](c, model.TableEmployees, "employee"),
		Jobs:      NewRepository[model.JobPosting](c, model.TableJobs, "job"),
		Inventory: NewRepository[model.Product](c, model.TableInventory, "product"),
		Programs:  NewRepository[model.Program](c, model.TablePrograms, "program"),
		Reports:   NewRepository[model.Report](c, model.TableReports, "report"),
		Profiles:  NewRepository[model.Profile](c, model.TableProfiles, "profile"),
	}
	f.Notifications = &Notifications{repo: NewRepository[model.Notification](c, model.TableNotifications, "notification")}
	f.Dashboard = &Dashboard{f: f}
	return f
}

func (f *Facade) Client() *Client { return f.client }

func (f *Facade) ListStudents(ctx context.Context, filter Filter) ([]model.Student, error) {
	return f.Students.List(ctx, filter)
}

func (f *Facade) GetStudent(ctx context.Context, id string) (model.Student, error) {
	return f.Students.Get(ctx, id)
}

func (f *Facade) CreateStudent(ctx context.Context, s model.Student) (model.Student, error) {
	return f.Students.Create(ctx, s)
}

func (f *Facade) UpdateStudent(ctx context.Context, id string, p Patch) (model.Student, error) {
	return f.Students.Update(ctx, id, p)
}

func (f *Facade) DeleteStudent(ctx context.Context, id string) error {
	return f.Students.Delete(ctx, id)
}

func (f *Facade) ListTrainers(ctx context.Context, filter Filter) ([]model.Trainer, error) {
	return f.Trainers.List(ctx, filter)
}

func (f *Facade) CreateTrainer(ctx context.Context, t model.Trainer) (model.Trainer, error) {
	return f.Trainers.Create(ctx, t)
}

func (f *Facade) UpdateTrainer(ctx context.Context, id string, p Patch) (model.Trainer, error) {
	return f.Trainers.Update(ctx, id, p)
}

func (f *Facade) DeleteTrainer(ctx context.Context, id string) error {
	return f.Trainers.Delete(ctx, id)
}

func (f *Facade) ListEmployees(ctx context.Context, filter Filter) ([]model.Employee, error) {
	return f.Employees.List(ctx, filter)
}

func (f *Facade) CreateEmployee(ctx context.Context, e model.Employee) (model.Employee, error) {
	return f.Employees.Create(ctx, e)
}

func (f *Facade) UpdateEmployee(ctx context.Context, id string, p Patch) (model.Employee, error) {
	return f.Employees.Update(ctx, id, p)
}

func (f *Facade) DeleteEmployee(ctx context.Context, id string) error {
	return f.Employees.Delete(ctx, id)
}

func (f *Facade) ListJobs(ctx context.Context, filter Filter) ([]model.JobPosting, error) {
	return f.Jobs.List(ctx, filter)
}

func (f *Facade) CreateJob(ctx context.Context, j model.JobPosting) (model.JobPosting, error) {
	return f.Jobs.Create(ctx, j)
}

func (f *Facade) UpdateJob(ctx context.Context, id string, p Patch) (model.JobPosting, error) {
	return f.Jobs.Update(ctx, id, p)
}

func (f *Facade) DeleteJob(ctx context.Context, id string) error {
	return f.Jobs.Delete(ctx, id)
}

func (f *Facade) ListProducts(ctx context.Context, filter Filter) ([]model.Product, error) {
	return f.Inventory.List(ctx, filter)
}

func (f *Facade) CreateProduct(ctx context.Context, p model.Product) (model.Product, error) {
	return f.Inventory.Create(ctx, p)
}

func (f *Facade) UpdateProduct(ctx context.Context, id string, p Patch) (model.Product, error) {
	return f.Inventory.Update(ctx, id, p)
}

func (f *Facade) DeleteProduct(ctx context.Context, id string) error {
	return f.Inventory.Delete(ctx, id)
}

func (f *Facade) ListPrograms(ctx context.Context, filter Filter) ([]model.Program, error) {
	return f.Programs.List(ctx, filter)
}

func (f *Facade) CreateProgram(ctx context.Context, p model.Program) (model.Program, error) {
	return f.Programs.Create(ctx, p)
}

func (f *Facade) UpdateProgram(ctx context.Context, id string, p Patch) (model.Program, error) {
	return f.Programs.Update(ctx, id, p)
}

func (f *Facade) DeleteProgram(ctx context.Context, id string) error {
	return f.Programs.Delete(ctx, id)
}

func (f *Facade) ListReports(ctx context.Context, filter Filter) ([]model.Report, error) {
	return f.Reports.List(ctx, filter)
}

func (f *Facade) CreateReport(ctx context.Context, r model.Report) (model.Report, error) {
	return f.Reports.Create(ctx, r)
}

func (f *Facade) UpdateReport(ctx context.Context, id string, p Patch) (model.Report, error) {
	return f.Reports.Update(ctx, id, p)
}

func (f *Facade) DeleteReport(ctx context.Context, id string) error {
	return f.Reports.Delete(ctx, id)
}

func (f *Facade) ListProfiles(ctx context.Context, filter Filter) ([]model.Profile, error) {
	return f.Profiles.List(ctx, filter)
}

func (f *Facade) UpdateProfile(ctx context.Context, id string, p Patch) (model.Profile, error) {
	return f.Profiles.Update(ctx, id, p)
}
