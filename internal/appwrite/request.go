package appwrite

import (
	"fmt"
	"net/url"
	"strconv"

	"appwritectl/internal/mutation"
)

// requestSpec is the pure translation of (action, params) into an
// upstream request. No network state; buildRequest never performs I/O.
type requestSpec struct {
	Method            string
	Path              string
	Query             url.Values
	Body              map[string]any
	MultipartFields   map[string]string
	MultipartCode     string
	OmitProjectHeader bool
}

func (r *requestSpec) multipart() bool {
	return r.MultipartCode != "" || len(r.MultipartFields) > 0
}

func buildRequest(action string, params map[string]any) (*requestSpec, *mutation.Error) {
	switch action {
	case "project.create":
		projectID, serr := requireString(params, "project_id")
		if serr != nil {
			return nil, serr
		}
		name, serr := requireString(params, "name")
		if serr != nil {
			return nil, serr
		}
		body := map[string]any{"projectId": projectID, "name": name}
		if teamID := stringParam(params, "team_id"); teamID != "" {
			body["teamId"] = teamID
		}
		if region := stringParam(params, "region"); region != "" {
			body["region"] = region
		}
		return &requestSpec{Method: "POST", Path: "/projects", Body: body, OmitProjectHeader: true}, nil

	case "project.delete":
		projectID, serr := requireString(params, "project_id")
		if serr != nil {
			return nil, serr
		}
		return &requestSpec{Method: "DELETE", Path: "/projects/" + projectID, OmitProjectHeader: true}, nil

	case "database.list":
		return &requestSpec{Method: "GET", Path: "/databases", Query: scalarQuery(params)}, nil

	case "database.create":
		databaseID, serr := requireString(params, "database_id")
		if serr != nil {
			return nil, serr
		}
		name, serr := requireString(params, "name")
		if serr != nil {
			return nil, serr
		}
		body := map[string]any{"databaseId": databaseID, "name": name}
		if enabled, ok := params["enabled"].(bool); ok {
			body["enabled"] = enabled
		}
		return &requestSpec{Method: "POST", Path: "/databases", Body: body}, nil

	case "database.upsert_collection":
		databaseID, serr := requireString(params, "database_id")
		if serr != nil {
			return nil, serr
		}
		name, serr := requireString(params, "name")
		if serr != nil {
			return nil, serr
		}
		body := map[string]any{"name": name}
		if security, ok := params["document_security"].(bool); ok {
			body["documentSecurity"] = security
		}
		if perms, ok := params["permissions"].([]any); ok {
			body["permissions"] = perms
		}
		if collectionID := stringParam(params, "collection_id"); collectionID != "" {
			body["collectionId"] = collectionID
			return &requestSpec{Method: "PUT", Path: "/databases/" + databaseID + "/collections/" + collectionID, Body: body}, nil
		}
		return &requestSpec{Method: "POST", Path: "/databases/" + databaseID + "/collections", Body: body}, nil

	case "database.delete_collection":
		databaseID, serr := requireString(params, "database_id")
		if serr != nil {
			return nil, serr
		}
		collectionID, serr := requireString(params, "collection_id")
		if serr != nil {
			return nil, serr
		}
		return &requestSpec{Method: "DELETE", Path: "/databases/" + databaseID + "/collections/" + collectionID}, nil

	case "auth.users.list":
		return &requestSpec{Method: "GET", Path: "/users", Query: scalarQuery(params)}, nil

	case "auth.users.create":
		userID, serr := requireString(params, "user_id")
		if serr != nil {
			return nil, serr
		}
		body := map[string]any{"userId": userID}
		for _, key := range []string{"email", "phone", "password", "name"} {
			if v := stringParam(params, key); v != "" {
				body[key] = v
			}
		}
		return &requestSpec{Method: "POST", Path: "/users", Body: body}, nil

	case "function.list":
		return &requestSpec{Method: "GET", Path: "/functions", Query: scalarQuery(params)}, nil

	case "function.create":
		functionID, serr := requireString(params, "function_id")
		if serr != nil {
			return nil, serr
		}
		name, serr := requireString(params, "name")
		if serr != nil {
			return nil, serr
		}
		runtime, serr := requireString(params, "runtime")
		if serr != nil {
			return nil, serr
		}
		body := map[string]any{"functionId": functionID, "name": name, "runtime": runtime}
		if entrypoint := stringParam(params, "entrypoint"); entrypoint != "" {
			body["entrypoint"] = entrypoint
		}
		return &requestSpec{Method: "POST", Path: "/functions", Body: body}, nil

	case "function.update":
		functionID, serr := requireString(params, "function_id")
		if serr != nil {
			return nil, serr
		}
		name, serr := requireString(params, "name")
		if serr != nil {
			return nil, serr
		}
		body := map[string]any{"name": name}
		for _, key := range []string{"runtime", "entrypoint"} {
			if v := stringParam(params, key); v != "" {
				body[key] = v
			}
		}
		return &requestSpec{Method: "PUT", Path: "/functions/" + functionID, Body: body}, nil

	case "function.deployment.trigger":
		functionID, serr := requireString(params, "function_id")
		if serr != nil {
			return nil, serr
		}
		code, serr := requireString(params, "code")
		if serr != nil {
			return nil, serr
		}
		fields := map[string]string{}
		if activate, ok := params["activate"].(bool); ok {
			fields["activate"] = strconv.FormatBool(activate)
		}
		for _, key := range []string{"entrypoint", "commands"} {
			if v := stringParam(params, key); v != "" {
				fields[key] = v
			}
		}
		return &requestSpec{
			Method:          "POST",
			Path:            "/functions/" + functionID + "/deployments",
			MultipartCode:   code,
			MultipartFields: fields,
		}, nil

	case "function.execution.trigger":
		functionID, serr := requireString(params, "function_id")
		if serr != nil {
			return nil, serr
		}
		body := map[string]any{}
		for _, key := range []string{"body", "path", "method"} {
			if v := stringParam(params, key); v != "" {
				body[key] = v
			}
		}
		if async, ok := params["async"].(bool); ok {
			body["async"] = async
		}
		if headers, ok := params["headers"].(map[string]any); ok {
			body["headers"] = headers
		}
		return &requestSpec{Method: "POST", Path: "/functions/" + functionID + "/executions", Body: body}, nil

	case "function.execution.status":
		functionID, serr := requireString(params, "function_id")
		if serr != nil {
			return nil, serr
		}
		executionID, serr := requireString(params, "execution_id")
		if serr != nil {
			return nil, serr
		}
		return &requestSpec{Method: "GET", Path: "/functions/" + functionID + "/executions/" + executionID}, nil
	}

	if spec, serr, ok := buildUserUpdate(action, params); ok {
		return spec, serr
	}
	return nil, mutation.NewError(mutation.CodeValidation, fmt.Sprintf("unsupported action %q", action))
}

// scalarQuery keeps only string/number/bool params; nested values never
// reach the query string.
func scalarQuery(params map[string]any) url.Values {
	q := url.Values{}
	for k, v := range params {
		switch t := v.(type) {
		case string:
			q.Set(k, t)
		case bool:
			q.Set(k, strconv.FormatBool(t))
		case float64:
			q.Set(k, strconv.FormatFloat(t, 'f', -1, 64))
		case int:
			q.Set(k, strconv.Itoa(t))
		}
	}
	return q
}

func stringParam(params map[string]any, key string) string {
	v, _ := params[key].(string)
	return v
}

func requireString(params map[string]any, key string) (string, *mutation.Error) {
	v, ok := params[key].(string)
	if !ok || v == "" {
		return "", mutation.NewError(mutation.CodeValidation, fmt.Sprintf("param %q required", key))
	}
	return v, nil
}
