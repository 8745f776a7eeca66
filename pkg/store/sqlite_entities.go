package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tempest-orch/tempest/pkg/model"
	"github.com/tempest-orch/tempest/pkg/query"
)

// dependent describes one dependent relationship for deletion-policy
// evaluation. Only the functions required by the configured policy need
// to be set.
type dependent struct {
	cascade func() error
	clear   func() error
	exists  func() (bool, error)
}

func applyDeletionPolicy(policy DeletionPolicy, relationship string, d dependent) error {
	switch policy {
	case DeletionPolicyCascade:
		return d.cascade()
	case DeletionPolicyClearReference:
		return d.clear()
	case DeletionPolicyRestrict:
		ok, err := d.exists()
		if err != nil {
			return err
		}
		if ok {
			return model.NewConflictError(
				fmt.Sprintf("%s still reference the entity", relationship), nil)
		}
		return nil
	default:
		return fmt.Errorf("unknown deletion policy: %s", policy)
	}
}

// Component operations

func (s *SQLiteStore) CreateComponent(ctx context.Context, c *model.Component) error {
	if err := model.ValidateStruct(c); err != nil {
		return err
	}

	attrs, err := jsonMap(c.Attributes)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	return s.inTx(ctx, func(tx *sql.Tx) error {
		ok, err := exists(ctx, tx, `SELECT 1 FROM components WHERE id = ?`, c.ID)
		if err != nil {
			return err
		}
		if ok {
			return model.NewConflictError("component already exists", nil).WithEntity(c.ID)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO components (id, attributes, created_at, updated_at) VALUES (?, ?, ?, ?)`,
			c.ID, attrs, c.CreatedAt, c.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to create component: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) GetComponent(ctx context.Context, id string) (*model.Component, error) {
	c := &model.Component{}
	var attrs string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, attributes, created_at, updated_at FROM components WHERE id = ?`, id).
		Scan(&c.ID, &attrs, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, model.NewNotFoundError("component not found", nil).WithEntity(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get component: %w", err)
	}

	if c.Attributes, err = decodeMap(attrs); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *SQLiteStore) UpdateComponent(ctx context.Context, c *model.Component) error {
	if err := model.ValidateStruct(c); err != nil {
		return err
	}

	attrs, err := jsonMap(c.Attributes)
	if err != nil {
		return err
	}
	c.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx,
		`UPDATE components SET attributes = ?, updated_at = ? WHERE id = ?`,
		attrs, c.UpdatedAt, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update component: %w", err)
	}
	return requireRow(result, "component", c.ID)
}

func (s *SQLiteStore) DeleteComponent(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM components WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete component: %w", err)
	}
	return requireRow(result, "component", id)
}

func (s *SQLiteStore) ListComponents(ctx context.Context) ([]*model.Component, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, attributes, created_at, updated_at FROM components ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list components: %w", err)
	}
	defer rows.Close()

	components := []*model.Component{}
	for rows.Next() {
		c := &model.Component{}
		var attrs string
		if err := rows.Scan(&c.ID, &attrs, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan component: %w", err)
		}
		if c.Attributes, err = decodeMap(attrs); err != nil {
			return nil, err
		}
		components = append(components, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating components: %w", err)
	}
	return components, nil
}

// Group operations

// validateGroup enforces the group's structural contract at the store
// boundary: the query must parse into a predicate tree and the include
// and exclude lists must hold component identifiers.
func validateGroup(g *model.Group) error {
	if err := model.ValidateStruct(g); err != nil {
		return err
	}
	if _, err := query.Parse(g.Query); err != nil {
		return err
	}
	if err := model.ValidateIdentifierList("include", g.Include); err != nil {
		return err
	}
	return model.ValidateIdentifierList("exclude", g.Exclude)
}

func (s *SQLiteStore) CreateGroup(ctx context.Context, g *model.Group) error {
	if err := validateGroup(g); err != nil {
		return err
	}

	queryText, err := jsonMap(g.Query)
	if err != nil {
		return err
	}
	include, err := jsonList(g.Include)
	if err != nil {
		return err
	}
	exclude, err := jsonList(g.Exclude)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	g.CreatedAt = now
	g.UpdatedAt = now

	return s.inTx(ctx, func(tx *sql.Tx) error {
		ok, err := exists(ctx, tx, `SELECT 1 FROM groups WHERE name = ?`, g.Name)
		if err != nil {
			return err
		}
		if ok {
			return model.NewConflictError("group already exists", nil).WithEntity(g.Name)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO groups (name, query, include, exclude, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			g.Name, queryText, include, exclude, g.CreatedAt, g.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to create group: %w", err)
		}
		return nil
	})
}

func scanGroup(scan func(dest ...any) error) (*model.Group, error) {
	g := &model.Group{}
	var queryText, include, exclude string

	if err := scan(&g.Name, &queryText, &include, &exclude, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	if g.Query, err = decodeMap(queryText); err != nil {
		return nil, err
	}
	if g.Include, err = decodeList(include); err != nil {
		return nil, err
	}
	if g.Exclude, err = decodeList(exclude); err != nil {
		return nil, err
	}
	return g, nil
}

const groupColumns = `name, query, include, exclude, created_at, updated_at`

func (s *SQLiteStore) GetGroup(ctx context.Context, name string) (*model.Group, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+groupColumns+` FROM groups WHERE name = ?`, name)

	g, err := scanGroup(row.Scan)
	if err == sql.ErrNoRows {
		return nil, model.NewNotFoundError("group not found", nil).WithEntity(name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return g, nil
}

func (s *SQLiteStore) UpdateGroup(ctx context.Context, g *model.Group) error {
	if err := validateGroup(g); err != nil {
		return err
	}

	queryText, err := jsonMap(g.Query)
	if err != nil {
		return err
	}
	include, err := jsonList(g.Include)
	if err != nil {
		return err
	}
	exclude, err := jsonList(g.Exclude)
	if err != nil {
		return err
	}
	g.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx,
		`UPDATE groups SET query = ?, include = ?, exclude = ?, updated_at = ? WHERE name = ?`,
		queryText, include, exclude, g.UpdatedAt, g.Name)
	if err != nil {
		return fmt.Errorf("failed to update group: %w", err)
	}
	return requireRow(result, "group", g.Name)
}

func (s *SQLiteStore) AddGroupMembers(ctx context.Context, name string, include, exclude []string) (*model.Group, error) {
	if err := model.ValidateIdentifierList("include", include); err != nil {
		return nil, err
	}
	if err := model.ValidateIdentifierList("exclude", exclude); err != nil {
		return nil, err
	}

	var updated *model.Group
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT `+groupColumns+` FROM groups WHERE name = ?`, name)
		g, err := scanGroup(row.Scan)
		if err == sql.ErrNoRows {
			return model.NewNotFoundError("group not found", nil).WithEntity(name)
		}
		if err != nil {
			return fmt.Errorf("failed to get group: %w", err)
		}

		// Identifiers already present in a list are not re-added.
		g.Include = mergeIdentifiers(g.Include, include)
		g.Exclude = mergeIdentifiers(g.Exclude, exclude)

		includeText, err := jsonList(g.Include)
		if err != nil {
			return err
		}
		excludeText, err := jsonList(g.Exclude)
		if err != nil {
			return err
		}
		g.UpdatedAt = time.Now().UTC()

		_, err = tx.ExecContext(ctx,
			`UPDATE groups SET include = ?, exclude = ?, updated_at = ? WHERE name = ?`,
			includeText, excludeText, g.UpdatedAt, name)
		if err != nil {
			return fmt.Errorf("failed to update group members: %w", err)
		}
		updated = g
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func mergeIdentifiers(current, added []string) []string {
	seen := make(map[string]bool, len(current))
	for _, id := range current {
		seen[id] = true
	}
	for _, id := range added {
		if !seen[id] {
			current = append(current, id)
			seen[id] = true
		}
	}
	return current
}

// DeleteGroup removes the group and applies the per-relationship
// deletion policies: owned services and link/membership rows cascade,
// recipe references are cleared to null.
func (s *SQLiteStore) DeleteGroup(ctx context.Context, name string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		ok, err := exists(ctx, tx, `SELECT 1 FROM groups WHERE name = ?`, name)
		if err != nil {
			return err
		}
		if !ok {
			return model.NewNotFoundError("group not found", nil).WithEntity(name)
		}

		err = applyDeletionPolicy(groupDeletionPolicies["component_links"], "component links", dependent{
			cascade: func() error {
				_, err := tx.ExecContext(ctx,
					`DELETE FROM component_links WHERE from_group = ? OR to_group = ?`, name, name)
				return err
			},
		})
		if err != nil {
			return fmt.Errorf("failed to delete component links: %w", err)
		}

		err = applyDeletionPolicy(groupDeletionPolicies["services"], "services", dependent{
			cascade: func() error {
				if _, err := tx.ExecContext(ctx,
					`DELETE FROM application_expose WHERE group_name = ?`, name); err != nil {
					return err
				}
				_, err := tx.ExecContext(ctx, `DELETE FROM services WHERE group_name = ?`, name)
				return err
			},
		})
		if err != nil {
			return fmt.Errorf("failed to delete services: %w", err)
		}

		err = applyDeletionPolicy(groupDeletionPolicies["application_components"], "application memberships", dependent{
			cascade: func() error {
				_, err := tx.ExecContext(ctx,
					`DELETE FROM application_components WHERE group_name = ?`, name)
				return err
			},
		})
		if err != nil {
			return fmt.Errorf("failed to delete application memberships: %w", err)
		}

		err = applyDeletionPolicy(groupDeletionPolicies["recipe_references"], "recipe references", dependent{
			clear: func() error {
				_, err := tx.ExecContext(ctx,
					`UPDATE recipes SET
						add_to = CASE WHEN add_to = ? THEN NULL ELSE add_to END,
						target_all_in = CASE WHEN target_all_in = ? THEN NULL ELSE target_all_in END,
						target_any_of = CASE WHEN target_any_of = ? THEN NULL ELSE target_any_of END
					 WHERE add_to = ? OR target_all_in = ? OR target_any_of = ?`,
					name, name, name, name, name, name)
				return err
			},
		})
		if err != nil {
			return fmt.Errorf("failed to clear recipe references: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM membership_snapshots WHERE group_name = ?`, name); err != nil {
			return fmt.Errorf("failed to delete membership snapshot: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM groups WHERE name = ?`, name); err != nil {
			return fmt.Errorf("failed to delete group: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) ListGroups(ctx context.Context) ([]*model.Group, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+groupColumns+` FROM groups ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	groups := []*model.Group{}
	for rows.Next() {
		g, err := scanGroup(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating groups: %w", err)
	}
	return groups, nil
}

// Service operations

func (s *SQLiteStore) CreateService(ctx context.Context, svc *model.Service) error {
	if err := model.ValidateStruct(svc); err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		ok, err := exists(ctx, tx, `SELECT 1 FROM groups WHERE name = ?`, svc.Group)
		if err != nil {
			return err
		}
		if !ok {
			return model.NewNotFoundError("owning group not found", nil).WithEntity(svc.Group)
		}

		ok, err = exists(ctx, tx,
			`SELECT 1 FROM services WHERE group_name = ? AND name = ?`, svc.Group, svc.Name)
		if err != nil {
			return err
		}
		if ok {
			return model.NewConflictError("service already exists in group", nil).
				WithEntity(svc.Group + "/" + svc.Name)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO services (group_name, name, protocol, port) VALUES (?, ?, ?, ?)`,
			svc.Group, svc.Name, svc.Protocol, svc.Port)
		if err != nil {
			return fmt.Errorf("failed to create service: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) GetService(ctx context.Context, group, name string) (*model.Service, error) {
	svc := &model.Service{}
	err := s.db.QueryRowContext(ctx,
		`SELECT group_name, name, protocol, port FROM services WHERE group_name = ? AND name = ?`,
		group, name).
		Scan(&svc.Group, &svc.Name, &svc.Protocol, &svc.Port)
	if err == sql.ErrNoRows {
		return nil, model.NewNotFoundError("service not found", nil).WithEntity(group + "/" + name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get service: %w", err)
	}
	return svc, nil
}

func (s *SQLiteStore) ListServices(ctx context.Context, group string) ([]*model.Service, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT group_name, name, protocol, port FROM services WHERE group_name = ? ORDER BY name`,
		group)
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	defer rows.Close()

	services := []*model.Service{}
	for rows.Next() {
		svc := &model.Service{}
		if err := rows.Scan(&svc.Group, &svc.Name, &svc.Protocol, &svc.Port); err != nil {
			return nil, fmt.Errorf("failed to scan service: %w", err)
		}
		services = append(services, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating services: %w", err)
	}
	return services, nil
}

func (s *SQLiteStore) DeleteService(ctx context.Context, group, name string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		ok, err := exists(ctx, tx,
			`SELECT 1 FROM services WHERE group_name = ? AND name = ?`, group, name)
		if err != nil {
			return err
		}
		if !ok {
			return model.NewNotFoundError("service not found", nil).WithEntity(group + "/" + name)
		}

		err = applyDeletionPolicy(serviceDeletionPolicies["component_links"], "component links", dependent{
			cascade: func() error {
				_, err := tx.ExecContext(ctx,
					`DELETE FROM component_links WHERE to_group = ? AND to_service = ?`, group, name)
				return err
			},
		})
		if err != nil {
			return fmt.Errorf("failed to delete component links: %w", err)
		}

		err = applyDeletionPolicy(serviceDeletionPolicies["application_expose"], "exposed services", dependent{
			cascade: func() error {
				_, err := tx.ExecContext(ctx,
					`DELETE FROM application_expose WHERE group_name = ? AND service_name = ?`, group, name)
				return err
			},
		})
		if err != nil {
			return fmt.Errorf("failed to delete exposed services: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM services WHERE group_name = ? AND name = ?`, group, name); err != nil {
			return fmt.Errorf("failed to delete service: %w", err)
		}
		return nil
	})
}

// Application operations

func (s *SQLiteStore) CreateApplication(ctx context.Context, a *model.Application) error {
	if err := model.ValidateStruct(a); err != nil {
		return err
	}

	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	return s.inTx(ctx, func(tx *sql.Tx) error {
		ok, err := exists(ctx, tx, `SELECT 1 FROM applications WHERE name = ?`, a.Name)
		if err != nil {
			return err
		}
		if ok {
			return model.NewConflictError("application already exists", nil).WithEntity(a.Name)
		}

		members := make(map[string]bool, len(a.Components))
		for _, group := range a.Components {
			ok, err := exists(ctx, tx, `SELECT 1 FROM groups WHERE name = ?`, group)
			if err != nil {
				return err
			}
			if !ok {
				return model.NewNotFoundError("component group not found", nil).WithEntity(group)
			}
			members[group] = true
		}

		for _, ref := range a.Expose {
			if !members[ref.Group] {
				return model.NewValidationError(
					fmt.Sprintf("service %s/%s is not part of component %s", ref.Group, ref.Name, ref.Group), nil)
			}
			ok, err := exists(ctx, tx,
				`SELECT 1 FROM services WHERE group_name = ? AND name = ?`, ref.Group, ref.Name)
			if err != nil {
				return err
			}
			if !ok {
				return model.NewNotFoundError("exposed service not found", nil).
					WithEntity(ref.Group + "/" + ref.Name)
			}
		}

		seenLinks := make(map[string]bool, len(a.Links))
		for _, link := range a.Links {
			if !members[link.FromGroup] {
				return model.NewValidationError(
					fmt.Sprintf("component %s is not part of the application", link.FromGroup), nil)
			}
			if !members[link.ToService.Group] {
				return model.NewValidationError(
					fmt.Sprintf("component %s is not part of the application", link.ToService.Group), nil)
			}
			ok, err := exists(ctx, tx,
				`SELECT 1 FROM services WHERE group_name = ? AND name = ?`,
				link.ToService.Group, link.ToService.Name)
			if err != nil {
				return err
			}
			if !ok {
				return model.NewNotFoundError("linked service not found", nil).
					WithEntity(link.ToService.Group + "/" + link.ToService.Name)
			}

			key := link.FromGroup + "\x00" + link.ToService.Group + "\x00" + link.ToService.Name
			if seenLinks[key] {
				return model.NewConflictError("duplicate component link", nil).WithEntity(key)
			}
			seenLinks[key] = true
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO applications (name, created_at, updated_at) VALUES (?, ?, ?)`,
			a.Name, a.CreatedAt, a.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to create application: %w", err)
		}

		for _, group := range a.Components {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO application_components (application, group_name) VALUES (?, ?)`,
				a.Name, group); err != nil {
				return fmt.Errorf("failed to add application component: %w", err)
			}
		}
		for _, ref := range a.Expose {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO application_expose (application, group_name, service_name) VALUES (?, ?, ?)`,
				a.Name, ref.Group, ref.Name); err != nil {
				return fmt.Errorf("failed to add exposed service: %w", err)
			}
		}
		for _, link := range a.Links {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO component_links (application, from_group, to_group, to_service)
				 VALUES (?, ?, ?, ?)`,
				a.Name, link.FromGroup, link.ToService.Group, link.ToService.Name); err != nil {
				return fmt.Errorf("failed to add component link: %w", err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) GetApplication(ctx context.Context, name string) (*model.Application, error) {
	a := &model.Application{}
	err := s.db.QueryRowContext(ctx,
		`SELECT name, created_at, updated_at FROM applications WHERE name = ?`, name).
		Scan(&a.Name, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, model.NewNotFoundError("application not found", nil).WithEntity(name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get application: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT group_name FROM application_components WHERE application = ? ORDER BY group_name`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to list application components: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var group string
		if err := rows.Scan(&group); err != nil {
			return nil, fmt.Errorf("failed to scan application component: %w", err)
		}
		a.Components = append(a.Components, group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating application components: %w", err)
	}

	exposeRows, err := s.db.QueryContext(ctx,
		`SELECT group_name, service_name FROM application_expose
		 WHERE application = ? ORDER BY group_name, service_name`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to list exposed services: %w", err)
	}
	defer exposeRows.Close()
	for exposeRows.Next() {
		var ref model.ServiceRef
		if err := exposeRows.Scan(&ref.Group, &ref.Name); err != nil {
			return nil, fmt.Errorf("failed to scan exposed service: %w", err)
		}
		a.Expose = append(a.Expose, ref)
	}
	if err := exposeRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating exposed services: %w", err)
	}

	linkRows, err := s.db.QueryContext(ctx,
		`SELECT from_group, to_group, to_service FROM component_links
		 WHERE application = ? ORDER BY from_group, to_group, to_service`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to list component links: %w", err)
	}
	defer linkRows.Close()
	for linkRows.Next() {
		link := model.ComponentLink{Application: name}
		if err := linkRows.Scan(&link.FromGroup, &link.ToService.Group, &link.ToService.Name); err != nil {
			return nil, fmt.Errorf("failed to scan component link: %w", err)
		}
		a.Links = append(a.Links, link)
	}
	if err := linkRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating component links: %w", err)
	}

	return a, nil
}

func (s *SQLiteStore) DeleteApplication(ctx context.Context, name string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		ok, err := exists(ctx, tx, `SELECT 1 FROM applications WHERE name = ?`, name)
		if err != nil {
			return err
		}
		if !ok {
			return model.NewNotFoundError("application not found", nil).WithEntity(name)
		}

		for relationship, table := range map[string]string{
			"component_links":        "component_links",
			"application_components": "application_components",
			"application_expose":     "application_expose",
		} {
			table := table
			err := applyDeletionPolicy(applicationDeletionPolicies[relationship], relationship, dependent{
				cascade: func() error {
					_, err := tx.ExecContext(ctx,
						`DELETE FROM `+table+` WHERE application = ?`, name)
					return err
				},
			})
			if err != nil {
				return fmt.Errorf("failed to delete %s: %w", relationship, err)
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM applications WHERE name = ?`, name); err != nil {
			return fmt.Errorf("failed to delete application: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) ListApplications(ctx context.Context) ([]*model.Application, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM applications ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan application: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating applications: %w", err)
	}

	apps := make([]*model.Application, 0, len(names))
	for _, name := range names {
		a, err := s.GetApplication(ctx, name)
		if err != nil {
			return nil, err
		}
		apps = append(apps, a)
	}
	return apps, nil
}

// Recipe operations

func (s *SQLiteStore) CreateRecipe(ctx context.Context, r *model.Recipe) error {
	if err := model.ValidateStruct(r); err != nil {
		return err
	}

	options, err := jsonMap(r.Options)
	if err != nil {
		return err
	}
	params, err := jsonMap(r.Params)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	return s.inTx(ctx, func(tx *sql.Tx) error {
		ok, err := exists(ctx, tx, `SELECT 1 FROM recipes WHERE name = ?`, r.Name)
		if err != nil {
			return err
		}
		if ok {
			return model.NewConflictError("recipe already exists", nil).WithEntity(r.Name)
		}

		if err := checkRecipeGroups(ctx, tx, r); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO recipes (name, type, content, options, params, add_to, target_all_in, target_any_of, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.Name, r.Type, r.Content, options, params,
			r.AddTo, r.TargetAllIn, r.TargetAnyOf, r.CreatedAt, r.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to create recipe: %w", err)
		}
		return nil
	})
}

func checkRecipeGroups(ctx context.Context, tx *sql.Tx, r *model.Recipe) error {
	for _, ref := range []*string{r.AddTo, r.TargetAllIn, r.TargetAnyOf} {
		if ref == nil {
			continue
		}
		ok, err := exists(ctx, tx, `SELECT 1 FROM groups WHERE name = ?`, *ref)
		if err != nil {
			return err
		}
		if !ok {
			return model.NewNotFoundError("referenced group not found", nil).WithEntity(*ref)
		}
	}
	return nil
}

const recipeColumns = `name, type, content, options, params, add_to, target_all_in, target_any_of, created_at, updated_at`

func scanRecipe(scan func(dest ...any) error) (*model.Recipe, error) {
	r := &model.Recipe{}
	var options, params string

	if err := scan(&r.Name, &r.Type, &r.Content, &options, &params,
		&r.AddTo, &r.TargetAllIn, &r.TargetAnyOf, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	if r.Options, err = decodeMap(options); err != nil {
		return nil, err
	}
	if r.Params, err = decodeMap(params); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *SQLiteStore) GetRecipe(ctx context.Context, name string) (*model.Recipe, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recipeColumns+` FROM recipes WHERE name = ?`, name)

	r, err := scanRecipe(row.Scan)
	if err == sql.ErrNoRows {
		return nil, model.NewNotFoundError("recipe not found", nil).WithEntity(name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recipe: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) UpdateRecipe(ctx context.Context, r *model.Recipe) error {
	if err := model.ValidateStruct(r); err != nil {
		return err
	}

	options, err := jsonMap(r.Options)
	if err != nil {
		return err
	}
	params, err := jsonMap(r.Params)
	if err != nil {
		return err
	}
	r.UpdatedAt = time.Now().UTC()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := checkRecipeGroups(ctx, tx, r); err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx,
			`UPDATE recipes SET type = ?, content = ?, options = ?, params = ?,
				add_to = ?, target_all_in = ?, target_any_of = ?, updated_at = ?
			 WHERE name = ?`,
			r.Type, r.Content, options, params,
			r.AddTo, r.TargetAllIn, r.TargetAnyOf, r.UpdatedAt, r.Name)
		if err != nil {
			return fmt.Errorf("failed to update recipe: %w", err)
		}
		return requireRow(result, "recipe", r.Name)
	})
}

func (s *SQLiteStore) DeleteRecipe(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM recipes WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete recipe: %w", err)
	}
	return requireRow(result, "recipe", name)
}

func (s *SQLiteStore) ListRecipes(ctx context.Context) ([]*model.Recipe, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recipeColumns+` FROM recipes ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipes: %w", err)
	}
	defer rows.Close()

	recipes := []*model.Recipe{}
	for rows.Next() {
		r, err := scanRecipe(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recipe: %w", err)
		}
		recipes = append(recipes, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recipes: %w", err)
	}
	return recipes, nil
}

// requireRow converts a zero-rows-affected update into a not-found error.
func requireRow(result sql.Result, entity, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return model.NewNotFoundError(entity+" not found", nil).WithEntity(id)
	}
	return nil
}
