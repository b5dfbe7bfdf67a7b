package gmp

import "encoding/xml"

// Commands. Field order matters to some manager versions, so each command is
// a dedicated struct rather than a generic element tree.

type authenticateCmd struct {
	XMLName     xml.Name `xml:"authenticate"`
	Credentials struct {
		Username string `xml:"username"`
		Password string `xml:"password"`
	} `xml:"credentials"`
}

type getConfigsCmd struct {
	XMLName xml.Name `xml:"get_configs"`
}

type idRef struct {
	ID string `xml:"id,attr"`
}

type createTargetCmd struct {
	XMLName    xml.Name `xml:"create_target"`
	Name       string   `xml:"name"`
	Hosts      string   `xml:"hosts"`
	AliveTests string   `xml:"alive_tests,omitempty"`
	Comment    string   `xml:"comment,omitempty"`
}

type createTaskCmd struct {
	XMLName xml.Name `xml:"create_task"`
	Name    string   `xml:"name"`
	Comment string   `xml:"comment,omitempty"`
	Config  idRef    `xml:"config"`
	Target  idRef    `xml:"target"`
	Scanner *idRef   `xml:"scanner,omitempty"`
}

type taskCmd struct {
	XMLName xml.Name
	TaskID  string `xml:"task_id,attr"`
	Details string `xml:"details,attr,omitempty"`
	// Ultimate removes the object instead of moving it to the trashcan.
	Ultimate string `xml:"ultimate,attr,omitempty"`
}

func startTask(id string) taskCmd {
	return taskCmd{XMLName: xml.Name{Local: "start_task"}, TaskID: id}
}

func stopTask(id string) taskCmd {
	return taskCmd{XMLName: xml.Name{Local: "stop_task"}, TaskID: id}
}

func getTask(id string, details bool) taskCmd {
	cmd := taskCmd{XMLName: xml.Name{Local: "get_tasks"}, TaskID: id}
	if details {
		cmd.Details = "1"
	}
	return cmd
}

func deleteTask(id string) taskCmd {
	return taskCmd{XMLName: xml.Name{Local: "delete_task"}, TaskID: id, Ultimate: "1"}
}

type deleteTargetCmd struct {
	XMLName  xml.Name `xml:"delete_target"`
	TargetID string   `xml:"target_id,attr"`
	Ultimate string   `xml:"ultimate,attr,omitempty"`
}

type reportCmd struct {
	XMLName  xml.Name
	ReportID string `xml:"report_id,attr"`
	Details  string `xml:"details,attr,omitempty"`
	Filter   string `xml:"filter,attr,omitempty"`
}

func getReport(id string) reportCmd {
	return reportCmd{XMLName: xml.Name{Local: "get_reports"}, ReportID: id, Details: "1"}
}

func deleteReport(id string) reportCmd {
	return reportCmd{XMLName: xml.Name{Local: "delete_report"}, ReportID: id}
}

// Responses.

// status is carried by every response root element.
type status struct {
	Code string `xml:"status,attr"`
	Text string `xml:"status_text,attr"`
}

func (s status) ok() bool { return len(s.Code) == 3 && s.Code[0] == '2' }

type genericResponse struct {
	status
}

type createResponse struct {
	status
	ID string `xml:"id,attr"`
}

type getConfigsResponse struct {
	status
	Configs []struct {
		ID   string `xml:"id,attr"`
		Name string `xml:"name"`
	} `xml:"config"`
}

type getTasksResponse struct {
	status
	Tasks []struct {
		ID         string `xml:"id,attr"`
		Status     string `xml:"status"`
		LastReport struct {
			Report struct {
				ID string `xml:"id,attr"`
			} `xml:"report"`
		} `xml:"last_report"`
	} `xml:"task"`
}

type getReportsResponse struct {
	status
	Inner []byte `xml:",innerxml"`
}
